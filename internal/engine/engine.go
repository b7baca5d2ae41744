// Package engine ties the store, sequencer, approval coordinator, and
// notification dispatcher into the full run lifecycle: trigger, execute,
// finalize, notify.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/conveyor/internal/lifecycle"
	"github.com/dwsmith1983/conveyor/internal/metrics"
	"github.com/dwsmith1983/conveyor/internal/notify"
	"github.com/dwsmith1983/conveyor/internal/pipeline"
	"github.com/dwsmith1983/conveyor/internal/sequencer"
	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Engine drives pipeline runs end to end.
type Engine struct {
	store      store.Store
	seq        *sequencer.Sequencer
	dispatcher *notify.Dispatcher
	def        pipeline.Definition
	logURLBase string
	recipients []string
	logger     *slog.Logger
	clock      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets a custom time source (useful for testing).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogURLBase sets the base URL embedded in notification bodies.
func WithLogURLBase(base string) Option {
	return func(e *Engine) { e.logURLBase = base }
}

// WithRecipients sets the notification recipient list.
func WithRecipients(recipients []string) Option {
	return func(e *Engine) { e.recipients = recipients }
}

// New creates an Engine for one pipeline definition.
func New(st store.Store, seq *sequencer.Sequencer, dispatcher *notify.Dispatcher, def pipeline.Definition, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:      st,
		seq:        seq,
		dispatcher: dispatcher,
		def:        def,
		logger:     logger,
		clock:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Pipeline returns the name of the pipeline this engine drives.
func (e *Engine) Pipeline() string { return e.def.Name }

// CreateRun instantiates a PENDING run for the trigger event, allocating the
// next build number from the store's monotonic counter.
func (e *Engine) CreateRun(ctx context.Context, ev types.TriggerEvent) (*types.PipelineRun, error) {
	if ev.Branch == "" {
		return nil, fmt.Errorf("trigger event missing branch")
	}

	buildNumber, err := e.store.NextBuildNumber(ctx, e.def.Name)
	if err != nil {
		return nil, fmt.Errorf("allocating build number: %w", err)
	}

	now := e.clock()
	run := &types.PipelineRun{
		RunID:       ulid.Make().String(),
		Pipeline:    e.def.Name,
		BuildNumber: buildNumber,
		Branch:      ev.Branch,
		Commit:      ev.Commit,
		Status:      types.RunPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.PutRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("persisting run %q: %w", run.RunID, err)
	}

	_ = e.store.AppendEvent(ctx, types.Event{
		Kind:      types.EventRunStateChanged,
		Pipeline:  run.Pipeline,
		RunID:     run.RunID,
		Status:    string(types.RunPending),
		Message:   fmt.Sprintf("triggered by %s on %s", ev.Source, ev.Branch),
		Timestamp: now,
	})

	e.logger.Info("run created",
		"runId", run.RunID, "pipeline", run.Pipeline, "build", run.BuildNumber, "branch", run.Branch)
	return run, nil
}

// Execute claims a PENDING run, drives it through the sequencer, finalizes
// its terminal status, and dispatches exactly one notification. The claim is
// a compare-and-swap so concurrent workers cannot execute the same run twice.
func (e *Engine) Execute(ctx context.Context, run *types.PipelineRun) (types.NotificationEvent, error) {
	if err := lifecycle.Transition(run.Status, types.RunRunning); err != nil {
		return "", fmt.Errorf("run %q: %w", run.RunID, err)
	}

	expected := run.Version
	run.Status = types.RunRunning
	run.Version++
	run.UpdatedAt = e.clock()
	ok, err := e.store.CompareAndSwapRun(ctx, run.RunID, expected, *run)
	if err != nil {
		return "", fmt.Errorf("claiming run %q: %w", run.RunID, err)
	}
	if !ok {
		return "", fmt.Errorf("run %q already claimed", run.RunID)
	}

	metrics.RunsStarted.Add(1)
	cancelled := e.seq.Execute(ctx, run, e.def.Stages)

	event := notify.Determine(run.Results, cancelled)
	status := lifecycle.StatusFor(event, cancelled)

	// Finalization and notification happen even when the trigger context was
	// cancelled mid-run.
	detached := context.WithoutCancel(ctx)

	completed := e.clock()
	run.Status = status
	run.CompletedAt = &completed
	run.UpdatedAt = completed
	run.Version++
	if err := e.store.PutRun(detached, *run); err != nil {
		e.logger.Error("failed to finalize run", "runId", run.RunID, "error", err)
	}
	_ = e.store.AppendEvent(detached, types.Event{
		Kind:      types.EventRunStateChanged,
		Pipeline:  run.Pipeline,
		RunID:     run.RunID,
		Status:    string(status),
		Timestamp: completed,
	})

	switch status {
	case types.RunSucceeded:
		metrics.RunsSucceeded.Add(1)
	case types.RunUnstable:
		metrics.RunsUnstable.Add(1)
	case types.RunCancelled:
		metrics.RunsCancelled.Add(1)
	default:
		metrics.RunsFailed.Add(1)
	}

	if e.dispatcher != nil {
		n := notify.Build(*run, event, e.logURLBase, e.recipients)
		e.dispatcher.Dispatch(detached, n)
	}

	e.logger.Info("run finished",
		"runId", run.RunID, "build", run.BuildNumber, "status", status, "event", event)
	return event, nil
}

// Trigger creates and immediately executes a run for the event.
func (e *Engine) Trigger(ctx context.Context, ev types.TriggerEvent) (*types.PipelineRun, types.NotificationEvent, error) {
	run, err := e.CreateRun(ctx, ev)
	if err != nil {
		return nil, "", err
	}
	event, err := e.Execute(ctx, run)
	if err != nil {
		return run, "", err
	}
	return run, event, nil
}

// ExitCode maps a terminal run status to a process exit code. Unstable runs
// exit zero: advisory findings warn, they do not break the build.
func ExitCode(status types.RunStatus) int {
	switch status {
	case types.RunSucceeded, types.RunUnstable:
		return 0
	case types.RunCancelled:
		return 130
	default:
		return 1
	}
}
