// Package lifecycle implements the pipeline run state machine.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunPending:          {types.RunRunning, types.RunCancelled},
	types.RunRunning:          {types.RunAwaitingApproval, types.RunSucceeded, types.RunUnstable, types.RunFailed, types.RunCancelled},
	types.RunAwaitingApproval: {types.RunRunning, types.RunCancelled},
	types.RunSucceeded:        {},
	types.RunUnstable:         {},
	types.RunFailed:           {},
	types.RunCancelled:        {},
}

// CanTransition checks if transitioning from one run status to another is valid.
func CanTransition(from, to types.RunStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates the move from one status to another, returning an
// error if the transition table does not allow it.
func Transition(from, to types.RunStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.RunStatus) bool {
	switch status {
	case types.RunSucceeded, types.RunUnstable, types.RunFailed, types.RunCancelled:
		return true
	}
	return false
}

// StatusFor maps the notification event derived from a run's stage results to
// the run's terminal status.
func StatusFor(event types.NotificationEvent, cancelled bool) types.RunStatus {
	if cancelled {
		return types.RunCancelled
	}
	switch event {
	case types.NotifyFailure:
		return types.RunFailed
	case types.NotifyUnstable:
		return types.RunUnstable
	default:
		return types.RunSucceeded
	}
}
