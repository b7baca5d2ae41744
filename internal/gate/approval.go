package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/conveyor/internal/metrics"
	"github.com/dwsmith1983/conveyor/internal/store"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Resolution is the terminal decision of one approval wait.
type Resolution struct {
	Decision types.ApprovalDecision
	Actor    string
}

// Coordinator parks runs awaiting manual approval. The wait is cooperative:
// the waiting goroutine blocks on a channel until an external Resolve call,
// the timeout, or run cancellation; there is no polling. Every pending approval is
// persisted so a restarted process can expire or list it.
type Coordinator struct {
	store  store.Store
	logger *slog.Logger
	clock  func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	waiters map[string]chan Resolution
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock sets a custom time source (useful for testing).
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithAfter sets a custom timer source (useful for testing timeouts).
func WithAfter(after func(time.Duration) <-chan time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.after = after }
}

// NewCoordinator creates an approval coordinator backed by the given store.
func NewCoordinator(s store.Store, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:   s,
		logger:  logger,
		clock:   time.Now,
		after:   time.After,
		waiters: make(map[string]chan Resolution),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Await suspends until the approval is resolved, times out, or the run is
// cancelled. Timeout resolves to TIMED_OUT, which callers must treat as an
// implicit reject: declined, not failed.
func (c *Coordinator) Await(ctx context.Context, runID, stage string, spec types.ApprovalSpec, timeout time.Duration) (types.PendingApproval, Resolution, error) {
	if timeout <= 0 {
		timeout = spec.Timeout()
	}

	now := c.clock()
	pa := types.PendingApproval{
		ApprovalID:  ulid.Make().String(),
		RunID:       runID,
		Stage:       stage,
		Message:     spec.Message,
		RequestedAt: now,
		ExpiresAt:   now.Add(timeout),
	}
	if err := c.store.PutApproval(ctx, pa); err != nil {
		return pa, Resolution{}, fmt.Errorf("persisting approval: %w", err)
	}
	metrics.ApprovalsRequested.Add(1)

	ch := make(chan Resolution, 1)
	c.mu.Lock()
	c.waiters[pa.ApprovalID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, pa.ApprovalID)
		c.mu.Unlock()
	}()

	c.logger.Info("run parked awaiting approval",
		"runId", runID, "stage", stage, "approvalId", pa.ApprovalID, "timeout", timeout)

	select {
	case res := <-ch:
		return pa, res, nil
	case <-c.after(timeout):
		metrics.ApprovalsTimedOut.Add(1)
		c.markResolved(pa.ApprovalID, types.ApprovalTimedOut, "")
		return pa, Resolution{Decision: types.ApprovalTimedOut}, nil
	case <-ctx.Done():
		c.markResolved(pa.ApprovalID, types.ApprovalCancelled, "")
		return pa, Resolution{Decision: types.ApprovalCancelled}, nil
	}
}

// Resolve records an external actor's decision and wakes the parked run, if
// this process is hosting it.
func (c *Coordinator) Resolve(ctx context.Context, approvalID string, decision types.ApprovalDecision, actor string) error {
	pa, err := c.store.GetApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if !pa.Pending() {
		return fmt.Errorf("approval %q already resolved as %s", approvalID, pa.Decision)
	}

	if err := c.store.ResolveApproval(ctx, approvalID, decision, actor); err != nil {
		return fmt.Errorf("resolving approval %q: %w", approvalID, err)
	}

	c.mu.Lock()
	ch, ok := c.waiters[approvalID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- Resolution{Decision: decision, Actor: actor}:
		default:
		}
	}

	c.logger.Info("approval resolved", "approvalId", approvalID, "decision", decision, "actor", actor)
	return nil
}

// ExpireOverdue resolves every persisted pending approval whose deadline has
// passed as TIMED_OUT. Called on startup and periodically so approvals left
// behind by a crashed process still reach a terminal decision.
func (c *Coordinator) ExpireOverdue(ctx context.Context) (int, error) {
	pending, err := c.store.ListPendingApprovals(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending approvals: %w", err)
	}

	now := c.clock()
	expired := 0
	for _, pa := range pending {
		if pa.ExpiresAt.After(now) {
			continue
		}
		if err := c.store.ResolveApproval(ctx, pa.ApprovalID, types.ApprovalTimedOut, ""); err != nil {
			c.logger.Warn("failed to expire approval", "approvalId", pa.ApprovalID, "error", err)
			continue
		}
		metrics.ApprovalsTimedOut.Add(1)
		expired++

		c.mu.Lock()
		ch, ok := c.waiters[pa.ApprovalID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- Resolution{Decision: types.ApprovalTimedOut}:
			default:
			}
		}
	}
	return expired, nil
}

func (c *Coordinator) markResolved(approvalID string, decision types.ApprovalDecision, actor string) {
	// The waiter is past its select; persist with a fresh context so the
	// record reflects the terminal decision even when the run was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.ResolveApproval(ctx, approvalID, decision, actor); err != nil {
		c.logger.Warn("failed to persist approval resolution", "approvalId", approvalID, "decision", decision, "error", err)
	}
}
