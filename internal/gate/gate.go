// Package gate decides whether a stage executes at all, and for protected
// deployments, whether a human must authorize it first.
package gate

import (
	"fmt"
	"strings"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Decision is the outcome of evaluating a stage's gating predicate.
type Decision string

// Decision values.
const (
	Run  Decision = "RUN"
	Skip Decision = "SKIP"
)

// Evaluate applies a stage's gating predicate to the immutable run context.
// It is a pure function of (stage spec, context): the same inputs always
// yield the same decision, and it reads only outcomes recorded strictly
// before the stage in sequence order.
func Evaluate(spec types.StageSpec, rc types.RunContext) (Decision, string) {
	if len(spec.Branches) > 0 && !branchAllowed(spec.Branches, rc.Branch) {
		return Skip, fmt.Sprintf("branch %q not in [%s]", rc.Branch, strings.Join(spec.Branches, ", "))
	}
	if spec.RequireNotFailed && rc.Aggregate() == types.OutcomeFailure {
		return Skip, "prior stage failed"
	}
	return Run, ""
}

func branchAllowed(allowed []string, branch string) bool {
	for _, b := range allowed {
		if b == branch {
			return true
		}
	}
	return false
}
