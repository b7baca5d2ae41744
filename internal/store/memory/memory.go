// Package memory implements an in-process Store for single-node mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu        sync.Mutex
	runs      map[string]types.PipelineRun
	counters  map[string]int
	events    []types.Event
	approvals map[string]types.PendingApproval
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:      make(map[string]types.PipelineRun),
		counters:  make(map[string]int),
		approvals: make(map[string]types.PendingApproval),
	}
}

var _ store.Store = (*Store)(nil)

// PutRun stores or replaces a run.
func (s *Store) PutRun(_ context.Context, run types.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

// GetRun returns a run by ID, or store.ErrNotFound.
func (s *Store) GetRun(_ context.Context, runID string) (*types.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := cloneRun(run)
	return &c, nil
}

// ListRuns returns runs for a pipeline, newest first.
func (s *Store) ListRuns(_ context.Context, pipeline string, limit int) ([]types.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PipelineRun
	for _, run := range s.runs {
		if pipeline != "" && run.Pipeline != pipeline {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompareAndSwapRun replaces the run only if its stored version matches.
func (s *Store) CompareAndSwapRun(_ context.Context, runID string, expectedVersion int, run types.PipelineRun) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[runID]
	if !ok {
		return false, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	s.runs[runID] = cloneRun(run)
	return true, nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// NextBuildNumber increments and returns the per-pipeline build counter.
func (s *Store) NextBuildNumber(_ context.Context, pipeline string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[pipeline]++
	return s.counters[pipeline], nil
}

// AppendEvent records an audit event.
func (s *Store) AppendEvent(_ context.Context, event types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListEvents returns events for a run in append order.
func (s *Store) ListEvents(_ context.Context, runID string, limit int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Event
	for _, e := range s.events {
		if runID != "" && e.RunID != runID {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// PutApproval persists a pending approval.
func (s *Store) PutApproval(_ context.Context, approval types.PendingApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.ApprovalID] = approval
	return nil
}

// GetApproval returns an approval by ID, or store.ErrNotFound.
func (s *Store) GetApproval(_ context.Context, approvalID string) (*types.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

// ListPendingApprovals returns every unresolved approval.
func (s *Store) ListPendingApprovals(_ context.Context) ([]types.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PendingApproval
	for _, a := range s.approvals {
		if a.Pending() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// ResolveApproval marks an approval resolved. Resolving an already-resolved
// approval is a no-op so external signals and timeouts cannot race each other
// into an error.
func (s *Store) ResolveApproval(_ context.Context, approvalID string, decision types.ApprovalDecision, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok {
		return store.ErrNotFound
	}
	if !a.Pending() {
		return nil
	}
	now := time.Now()
	a.Decision = decision
	a.Actor = actor
	a.ResolvedAt = &now
	s.approvals[approvalID] = a
	return nil
}

// Ping reports the store as available.
func (s *Store) Ping(_ context.Context) error { return nil }

func cloneRun(run types.PipelineRun) types.PipelineRun {
	c := run
	c.Results = append([]types.StageResult(nil), run.Results...)
	return c
}
