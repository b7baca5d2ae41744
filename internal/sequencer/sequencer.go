// Package sequencer executes pipeline stages in declared order, enforcing
// gating, parallel-join, advisory-failure, and always-run semantics.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dwsmith1983/conveyor/internal/gate"
	"github.com/dwsmith1983/conveyor/internal/invoke"
	"github.com/dwsmith1983/conveyor/internal/lifecycle"
	"github.com/dwsmith1983/conveyor/internal/metrics"
	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

const defaultStageTimeout = 10 * time.Minute

// Sequencer runs the stages of a single pipeline run. Stage results are
// persisted as they are recorded so a crash never loses completed work.
type Sequencer struct {
	store     store.Store
	invoker   invoke.Invoker
	approvals *gate.Coordinator
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock sets a custom time source (useful for testing).
func WithClock(clock func() time.Time) Option {
	return func(s *Sequencer) { s.clock = clock }
}

// New creates a Sequencer.
func New(st store.Store, inv invoke.Invoker, approvals *gate.Coordinator, logger *slog.Logger, opts ...Option) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequencer{
		store:     st,
		invoker:   inv,
		approvals: approvals,
		logger:    logger,
		clock:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute runs every stage in order, mutating run.Results and run.Approver as
// it goes. It returns true when the run was cancelled. Always-run stages
// (cleanup) execute even after an abort or cancellation; everything else
// downstream of a fatal failure is recorded as skipped.
func (s *Sequencer) Execute(ctx context.Context, run *types.PipelineRun, stages []types.StageSpec) bool {
	aborted := false
	cancelled := false

	for _, spec := range stages {
		// Immutable snapshot: gates and bodies see only what was recorded
		// strictly before this stage.
		rc := types.NewRunContext(*run, run.Results)

		if !spec.AlwaysRun {
			if ctx.Err() != nil {
				cancelled = true
			}
			if cancelled {
				s.recordSkip(ctx, run, spec, "run cancelled")
				continue
			}
			if aborted {
				s.recordSkip(ctx, run, spec, "earlier stage failed")
				continue
			}
		}

		if decision, reason := gate.Evaluate(spec, rc); decision == gate.Skip {
			s.recordSkip(ctx, run, spec, reason)
			continue
		}

		if spec.Approval != nil {
			proceed, stopped, failed := s.awaitApproval(ctx, run, spec)
			switch {
			case stopped:
				cancelled = true
				continue
			case failed:
				aborted = true
				continue
			case !proceed:
				continue
			}
		}

		stageCtx := ctx
		if spec.AlwaysRun {
			stageCtx = context.WithoutCancel(ctx)
		}

		var results []types.StageResult
		if len(spec.Parallel) > 0 {
			results = s.runParallel(stageCtx, spec, rc)
		} else {
			results = []types.StageResult{s.runStage(stageCtx, spec, rc)}
		}

		for _, res := range results {
			s.record(ctx, run, res)
			switch {
			case res.Outcome == types.OutcomeCancelled:
				cancelled = true
			case res.Outcome == types.OutcomeFailure && !res.Advisory:
				aborted = true
			}
		}
	}

	return cancelled
}

// runStage executes one stage body and converts the result, including any
// error, into a recorded outcome. Errors never escape the stage boundary.
func (s *Sequencer) runStage(ctx context.Context, spec types.StageSpec, rc types.RunContext) types.StageResult {
	res := types.StageResult{
		Stage:        spec.Name,
		Advisory:     spec.Advisory,
		ArtifactPath: spec.ArtifactPath,
		StartedAt:    s.clock(),
	}

	timeout := defaultStageTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res.Outcome = types.OutcomeSuccess

	if spec.Command != "" {
		out, err := s.invoker.Run(stageCtx, invoke.Command{
			Command: spec.Command,
			WorkDir: spec.WorkDir,
			Env:     s.stageEnv(spec, rc),
		})
		switch {
		case err != nil && ctx.Err() != nil:
			res.Outcome = types.OutcomeCancelled
			res.Message = "run cancelled"
		case err != nil:
			res.Outcome = types.OutcomeFailure
			res.Message = fmt.Sprintf("invoking tool: %v", err)
		case out.ExitCode != 0:
			res.Outcome = types.OutcomeFailure
			res.Message = fmt.Sprintf("exit status %d", out.ExitCode)
		}
	}

	if res.Outcome == types.OutcomeSuccess && spec.SmokeURL != "" {
		if err := invoke.HTTPCheck(stageCtx, spec.SmokeURL, timeout); err != nil {
			if ctx.Err() != nil {
				res.Outcome = types.OutcomeCancelled
				res.Message = "run cancelled"
			} else {
				res.Outcome = types.OutcomeFailure
				res.Message = err.Error()
			}
		}
	}

	completed := s.clock()
	res.CompletedAt = &completed
	return res
}

// runParallel starts all sub-stages concurrently and waits for every member
// to reach a terminal state. A failing member never cancels its siblings.
// The parent stage's outcome is the worst of its members.
func (s *Sequencer) runParallel(ctx context.Context, spec types.StageSpec, rc types.RunContext) []types.StageResult {
	started := s.clock()
	members := make([]types.StageResult, len(spec.Parallel))

	var wg sync.WaitGroup
	for i, sub := range spec.Parallel {
		wg.Add(1)
		go func(idx int, sub types.StageSpec) {
			defer wg.Done()
			members[idx] = s.runStage(ctx, sub, rc)
		}(i, sub)
	}
	wg.Wait()

	effective := make([]types.Outcome, len(members))
	for i, m := range members {
		effective[i] = types.EffectiveOutcome(m)
	}
	completed := s.clock()

	parent := types.StageResult{
		Stage:       spec.Name,
		Advisory:    spec.Advisory,
		Outcome:     types.WorstOutcome(effective...),
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if parent.Outcome == types.OutcomeSkipped {
		// An empty or all-skipped group still counts as done.
		parent.Outcome = types.OutcomeSuccess
	}

	return append(members, parent)
}

// awaitApproval parks the run until the gate resolves. Returns proceed=true
// only on an explicit approve; a rejection or timeout records the stage as
// skipped (declined, not failed). stopped=true means the run was cancelled
// while parked. failed=true means the gate itself broke (store error), which
// is a fatal failure: the stage is recorded FAILURE and the caller aborts
// remaining sequential stages.
func (s *Sequencer) awaitApproval(ctx context.Context, run *types.PipelineRun, spec types.StageSpec) (proceed, stopped, failed bool) {
	s.setStatus(ctx, run, types.RunAwaitingApproval)

	pa, resolution, err := s.approvals.Await(ctx, run.RunID, spec.Name, *spec.Approval, spec.Approval.Timeout())
	if err != nil {
		s.setStatus(ctx, run, types.RunRunning)
		s.record(ctx, run, types.StageResult{
			Stage:     spec.Name,
			Outcome:   types.OutcomeFailure,
			Message:   fmt.Sprintf("approval gate error: %v", err),
			StartedAt: s.clock(),
		})
		return false, false, true
	}

	s.appendEvent(ctx, run, types.Event{
		Kind:    types.EventApprovalResolved,
		Stage:   spec.Name,
		Status:  string(resolution.Decision),
		Message: pa.Message,
		Details: map[string]interface{}{"approvalId": pa.ApprovalID, "actor": resolution.Actor},
	})

	switch resolution.Decision {
	case types.ApprovalApproved:
		run.Approver = resolution.Actor
		s.setStatus(ctx, run, types.RunRunning)
		return true, false, false
	case types.ApprovalCancelled:
		s.record(ctx, run, types.StageResult{
			Stage:     spec.Name,
			Outcome:   types.OutcomeCancelled,
			Message:   "run cancelled while awaiting approval",
			StartedAt: s.clock(),
		})
		return false, true, false
	default: // rejected or timed out: declined, not failed
		s.setStatus(ctx, run, types.RunRunning)
		s.recordSkip(ctx, run, spec, fmt.Sprintf("approval %s", resolution.Decision))
		return false, false, false
	}
}

func (s *Sequencer) stageEnv(spec types.StageSpec, rc types.RunContext) map[string]string {
	env := map[string]string{
		"CONVEYOR_RUN_ID":       rc.RunID,
		"CONVEYOR_PIPELINE":     rc.Pipeline,
		"CONVEYOR_BRANCH":       rc.Branch,
		"CONVEYOR_COMMIT":       rc.Commit,
		"CONVEYOR_BUILD_NUMBER": strconv.Itoa(rc.BuildNumber),
	}
	for k, v := range spec.Env {
		env[k] = v
	}
	return env
}

// record appends a result to the run, persists it, and emits the audit event.
func (s *Sequencer) record(ctx context.Context, run *types.PipelineRun, res types.StageResult) {
	run.Results = append(run.Results, res)
	s.persist(ctx, run)

	if res.Outcome == types.OutcomeSkipped {
		metrics.StagesSkipped.Add(1)
	} else {
		metrics.StagesExecuted.Add(1)
	}

	kind := types.EventStageCompleted
	if res.Outcome == types.OutcomeSkipped {
		kind = types.EventStageSkipped
	}
	s.appendEvent(ctx, run, types.Event{
		Kind:    kind,
		Stage:   res.Stage,
		Status:  string(res.Outcome),
		Message: res.Message,
	})

	s.logger.Info("stage recorded",
		"runId", run.RunID, "stage", res.Stage, "outcome", res.Outcome, "advisory", res.Advisory)
}

func (s *Sequencer) recordSkip(ctx context.Context, run *types.PipelineRun, spec types.StageSpec, reason string) {
	now := s.clock()
	completed := now
	s.record(ctx, run, types.StageResult{
		Stage:       spec.Name,
		Outcome:     types.OutcomeSkipped,
		Advisory:    spec.Advisory,
		Message:     reason,
		StartedAt:   now,
		CompletedAt: &completed,
	})
}

func (s *Sequencer) setStatus(ctx context.Context, run *types.PipelineRun, status types.RunStatus) {
	if err := lifecycle.Transition(run.Status, status); err != nil {
		s.logger.Warn("refusing status change", "runId", run.RunID, "error", err)
		return
	}
	run.Status = status
	s.persist(ctx, run)
	s.appendEvent(ctx, run, types.Event{
		Kind:   types.EventRunStateChanged,
		Status: string(status),
	})
}

// persist writes the run with a fresh version. Uses a detached context so a
// cancelled run still gets its final records written.
func (s *Sequencer) persist(ctx context.Context, run *types.PipelineRun) {
	run.Version++
	run.UpdatedAt = s.clock()
	if err := s.store.PutRun(context.WithoutCancel(ctx), *run); err != nil {
		s.logger.Warn("failed to persist run", "runId", run.RunID, "error", err)
	}
}

func (s *Sequencer) appendEvent(ctx context.Context, run *types.PipelineRun, ev types.Event) {
	ev.Pipeline = run.Pipeline
	ev.RunID = run.RunID
	ev.Timestamp = s.clock()
	_ = s.store.AppendEvent(context.WithoutCancel(ctx), ev)
}
