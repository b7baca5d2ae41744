// Package store defines the persistence backend interface for Conveyor.
package store

import (
	"context"
	"errors"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// ErrNotFound is returned when a run or approval does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence backend interface. The memory implementation
// serves single-process mode and tests; DynamoDB serves durable deployments.
type Store interface {
	// Run state (with CAS for the trigger lock)
	PutRun(ctx context.Context, run types.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*types.PipelineRun, error)
	ListRuns(ctx context.Context, pipeline string, limit int) ([]types.PipelineRun, error)
	CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, run types.PipelineRun) (bool, error)
	DeleteRun(ctx context.Context, runID string) error

	// Monotonic per-pipeline build counter
	NextBuildNumber(ctx context.Context, pipeline string) (int, error)

	// Event log: append-only audit trail
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error)

	// Approval gate persistence, so a restarted process does not lose
	// pending-approval status
	PutApproval(ctx context.Context, approval types.PendingApproval) error
	GetApproval(ctx context.Context, approvalID string) (*types.PendingApproval, error)
	ListPendingApprovals(ctx context.Context) ([]types.PendingApproval, error)
	ResolveApproval(ctx context.Context, approvalID string, decision types.ApprovalDecision, actor string) error

	// Lifecycle
	Ping(ctx context.Context) error
}
