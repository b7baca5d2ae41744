// Package storetest provides a conformance suite run against every Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Run executes the full conformance suite against the given store.
func Run(t *testing.T, s store.Store) {
	t.Run("RunRoundTrip", func(t *testing.T) { testRunRoundTrip(t, s) })
	t.Run("RunCAS", func(t *testing.T) { testRunCAS(t, s) })
	t.Run("BuildNumber", func(t *testing.T) { testBuildNumber(t, s) })
	t.Run("Events", func(t *testing.T) { testEvents(t, s) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, s) })
	t.Run("DeleteRun", func(t *testing.T) { testDeleteRun(t, s) })
}

func testRunRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	run := types.PipelineRun{
		RunID:       "run-rt-1",
		Pipeline:    "demo",
		BuildNumber: 7,
		Branch:      "main",
		Commit:      "abc123",
		Status:      types.RunRunning,
		Version:     1,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Results: []types.StageResult{
			{Stage: "checkout", Outcome: types.OutcomeSuccess, StartedAt: time.Now().UTC()},
		},
	}
	require.NoError(t, s.PutRun(ctx, run))

	got, err := s.GetRun(ctx, "run-rt-1")
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Branch, got.Branch)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.Len(t, got.Results, 1)

	_, err = s.GetRun(ctx, "no-such-run")
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, err := s.ListRuns(ctx, "demo", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}

func testRunCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	run := types.PipelineRun{RunID: "run-cas-1", Pipeline: "demo", Status: types.RunPending, Version: 1, CreatedAt: time.Now()}
	require.NoError(t, s.PutRun(ctx, run))

	run.Status = types.RunRunning
	run.Version = 2
	ok, err := s.CompareAndSwapRun(ctx, "run-cas-1", 1, run)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale version loses.
	run.Version = 3
	ok, err = s.CompareAndSwapRun(ctx, "run-cas-1", 1, run)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown run never swaps. Backends may surface this as a miss or an
	// error; either way ok must be false.
	ok, _ = s.CompareAndSwapRun(ctx, "no-such-run", 1, run)
	assert.False(t, ok)
}

func testBuildNumber(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.NextBuildNumber(ctx, "counter-pipe")
	require.NoError(t, err)
	second, err := s.NextBuildNumber(ctx, "counter-pipe")
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	other, err := s.NextBuildNumber(ctx, "other-pipe")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, kind := range []types.EventKind{types.EventRunStateChanged, types.EventStageStarted, types.EventStageCompleted} {
		require.NoError(t, s.AppendEvent(ctx, types.Event{
			Kind:      kind,
			RunID:     "run-ev-1",
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := s.ListEvents(ctx, "run-ev-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventRunStateChanged, events[0].Kind)
}

func testApprovals(t *testing.T, s store.Store) {
	ctx := context.Background()

	pa := types.PendingApproval{
		ApprovalID:  "appr-1",
		RunID:       "run-ap-1",
		Stage:       "deploy-production",
		Message:     "Deploy to production?",
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutApproval(ctx, pa))

	pending, err := s.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	require.NoError(t, s.ResolveApproval(ctx, "appr-1", types.ApprovalApproved, "alice"))

	got, err := s.GetApproval(ctx, "appr-1")
	require.NoError(t, err)
	assert.False(t, got.Pending())
	assert.Equal(t, types.ApprovalApproved, got.Decision)
	assert.Equal(t, "alice", got.Actor)
	require.NotNil(t, got.ResolvedAt)

	// Second resolution is a no-op, not an error.
	require.NoError(t, s.ResolveApproval(ctx, "appr-1", types.ApprovalRejected, "bob"))
	got, err = s.GetApproval(ctx, "appr-1")
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalApproved, got.Decision)
	assert.Equal(t, "alice", got.Actor)

	assert.ErrorIs(t, s.ResolveApproval(ctx, "no-such-approval", types.ApprovalApproved, "x"), store.ErrNotFound)
}

func testDeleteRun(t *testing.T, s store.Store) {
	ctx := context.Background()

	run := types.PipelineRun{RunID: "run-del-1", Pipeline: "demo", Status: types.RunSucceeded, Version: 1, CreatedAt: time.Now()}
	require.NoError(t, s.PutRun(ctx, run))
	require.NoError(t, s.DeleteRun(ctx, "run-del-1"))

	_, err := s.GetRun(ctx, "run-del-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
