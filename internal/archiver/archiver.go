// Package archiver provides a background process that moves terminal runs out
// of the operational store into durable long-term storage.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dwsmith1983/conveyor/internal/lifecycle"
	"github.com/dwsmith1983/conveyor/internal/metrics"
	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

const (
	defaultInterval  = time.Hour
	defaultRetention = 7 * 24 * time.Hour
)

// Destination defines the write interface for the archival backend.
type Destination interface {
	ArchiveRun(ctx context.Context, run types.PipelineRun, events []types.Event) error
}

// Archiver periodically archives terminal runs older than the retention
// window and removes them from the operational store.
type Archiver struct {
	source    store.Store
	dest      Destination
	pipeline  string
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	clock     func() time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithClock sets a custom time source (useful for testing).
func WithClock(clock func() time.Time) Option {
	return func(a *Archiver) { a.clock = clock }
}

// New creates an Archiver from the archive configuration.
func New(source store.Store, dest Destination, pipeline string, cfg types.ArchiveConfig, logger *slog.Logger, opts ...Option) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		source:    source,
		dest:      dest,
		pipeline:  pipeline,
		interval:  defaultInterval,
		retention: defaultRetention,
		logger:    logger,
		clock:     time.Now,
	}
	if cfg.IntervalMinutes > 0 {
		a.interval = time.Duration(cfg.IntervalMinutes) * time.Minute
	}
	if cfg.RetentionHours > 0 {
		a.retention = time.Duration(cfg.RetentionHours) * time.Hour
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start begins the archiver background loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("archiver started", "interval", a.interval, "retention", a.retention)
}

// Stop signals the archiver to stop and waits for it to finish.
func (a *Archiver) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Run once immediately on start
	a.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick archives one batch. Exposed so callers can force a pass.
func (a *Archiver) Tick(ctx context.Context) {
	runs, err := a.source.ListRuns(ctx, a.pipeline, 0)
	if err != nil {
		a.logger.Error("archiver: failed to list runs", "pipeline", a.pipeline, "error", err)
		return
	}

	cutoff := a.clock().Add(-a.retention)
	for _, run := range runs {
		if ctx.Err() != nil {
			return
		}
		if !lifecycle.IsTerminal(run.Status) {
			continue
		}
		if run.CompletedAt == nil || run.CompletedAt.After(cutoff) {
			continue
		}
		a.archiveRun(ctx, run)
	}
}

func (a *Archiver) archiveRun(ctx context.Context, run types.PipelineRun) {
	events, err := a.source.ListEvents(ctx, run.RunID, 0)
	if err != nil {
		a.logger.Error("archiver: list events failed", "runId", run.RunID, "error", err)
		return
	}

	if err := a.dest.ArchiveRun(ctx, run, events); err != nil {
		a.logger.Error("archiver: archive run failed", "runId", run.RunID, "error", err)
		return
	}

	// Delete only after the archive write succeeded.
	if err := a.source.DeleteRun(ctx, run.RunID); err != nil {
		a.logger.Error("archiver: delete run failed", "runId", run.RunID, "error", err)
		return
	}

	_ = a.source.AppendEvent(ctx, types.Event{
		Kind:      types.EventRunArchived,
		Pipeline:  run.Pipeline,
		RunID:     run.RunID,
		Status:    string(run.Status),
		Timestamp: a.clock(),
	})
	metrics.RunsArchived.Add(1)
	a.logger.Info("run archived", "runId", run.RunID, "build", run.BuildNumber)
}

// FileDestination appends archived runs to a JSONL file, one run with its
// events per line.
type FileDestination struct {
	mu   sync.Mutex
	path string
}

// NewFileDestination creates the archive directory and returns a destination
// writing to archive.jsonl inside it.
func NewFileDestination(dir string) (*FileDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir %q: %w", dir, err)
	}
	return &FileDestination{path: filepath.Join(dir, "archive.jsonl")}, nil
}

type archiveRecord struct {
	Run    types.PipelineRun `json:"run"`
	Events []types.Event     `json:"events,omitempty"`
}

// ArchiveRun appends the run and its events as a single JSON line.
func (d *FileDestination) ArchiveRun(_ context.Context, run types.PipelineRun, events []types.Event) error {
	data, err := json.Marshal(archiveRecord{Run: run, Events: events})
	if err != nil {
		return fmt.Errorf("marshaling archive record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening archive file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing archive record: %w", err)
	}
	return nil
}
