package gate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/conveyor/internal/store/memory"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

func newCoordinator(t *testing.T) (*Coordinator, *memory.Store) {
	t.Helper()
	s := memory.New()
	return NewCoordinator(s, slog.Default()), s
}

func TestAwaitApproved(t *testing.T) {
	c, s := newCoordinator(t)
	ctx := context.Background()

	type result struct {
		pa  types.PendingApproval
		res Resolution
		err error
	}
	done := make(chan result, 1)
	go func() {
		pa, res, err := c.Await(ctx, "run-1", "deploy-production", types.ApprovalSpec{Message: "ship it?"}, time.Minute)
		done <- result{pa, res, err}
	}()

	// Wait for the approval to be persisted, then resolve it as alice.
	var approvalID string
	require.Eventually(t, func() bool {
		pending, err := s.ListPendingApprovals(ctx)
		if err != nil || len(pending) == 0 {
			return false
		}
		approvalID = pending[0].ApprovalID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Resolve(ctx, approvalID, types.ApprovalApproved, "alice"))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, types.ApprovalApproved, r.res.Decision)
	assert.Equal(t, "alice", r.res.Actor)

	got, err := s.GetApproval(ctx, approvalID)
	require.NoError(t, err)
	assert.False(t, got.Pending())
	assert.Equal(t, "alice", got.Actor)
}

func TestAwaitTimeout(t *testing.T) {
	c, s := newCoordinator(t)

	_, res, err := c.Await(context.Background(), "run-2", "deploy-production", types.ApprovalSpec{}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalTimedOut, res.Decision)
	assert.Empty(t, res.Actor)

	// The persisted record reaches a terminal decision too.
	pending, err := s.ListPendingApprovals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAwaitCancelled(t *testing.T) {
	c, _ := newCoordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Resolution, 1)
	go func() {
		_, res, _ := c.Await(ctx, "run-3", "deploy-production", types.ApprovalSpec{}, time.Minute)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	res := <-done
	assert.Equal(t, types.ApprovalCancelled, res.Decision)
}

func TestResolveUnknownApproval(t *testing.T) {
	c, _ := newCoordinator(t)
	err := c.Resolve(context.Background(), "nope", types.ApprovalApproved, "alice")
	assert.Error(t, err)
}

func TestResolveAlreadyResolved(t *testing.T) {
	c, s := newCoordinator(t)
	ctx := context.Background()

	pa := types.PendingApproval{
		ApprovalID:  "appr-dup",
		RunID:       "run-4",
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, s.PutApproval(ctx, pa))
	require.NoError(t, c.Resolve(ctx, "appr-dup", types.ApprovalRejected, "bob"))

	err := c.Resolve(ctx, "appr-dup", types.ApprovalApproved, "alice")
	assert.Error(t, err)

	got, err := s.GetApproval(ctx, "appr-dup")
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalRejected, got.Decision)
	assert.Equal(t, "bob", got.Actor)
}

func TestExpireOverdue(t *testing.T) {
	// Simulates a restarted process finding approvals left behind: overdue
	// ones resolve to TIMED_OUT, the rest stay pending.
	s := memory.New()
	now := time.Now()
	c := NewCoordinator(s, slog.Default(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.PutApproval(ctx, types.PendingApproval{
		ApprovalID:  "appr-old",
		RunID:       "run-5",
		RequestedAt: now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	}))
	require.NoError(t, s.PutApproval(ctx, types.PendingApproval{
		ApprovalID:  "appr-fresh",
		RunID:       "run-6",
		RequestedAt: now,
		ExpiresAt:   now.Add(time.Hour),
	}))

	expired, err := c.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	old, err := s.GetApproval(ctx, "appr-old")
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalTimedOut, old.Decision)

	fresh, err := s.GetApproval(ctx, "appr-fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Pending())
}
