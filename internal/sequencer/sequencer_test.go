package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/conveyor/internal/gate"
	"github.com/dwsmith1983/conveyor/internal/store/memory"
	"github.com/dwsmith1983/conveyor/internal/testutil"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(inv *testutil.ScriptedInvoker) (*Sequencer, *memory.Store, *gate.Coordinator) {
	st := memory.New()
	coord := gate.NewCoordinator(st, slog.Default())
	return New(st, inv, coord, slog.Default()), st, coord
}

func newRun(branch string) *types.PipelineRun {
	now := time.Now()
	return &types.PipelineRun{
		RunID:       "run-1",
		Pipeline:    "webapp",
		BuildNumber: 7,
		Branch:      branch,
		Commit:      "abc1234",
		Status:      types.RunRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func resultFor(t *testing.T, run *types.PipelineRun, stage string) types.StageResult {
	t.Helper()
	for _, r := range run.Results {
		if r.Stage == stage {
			return r
		}
	}
	t.Fatalf("no result recorded for stage %q", stage)
	return types.StageResult{}
}

func TestExecuteAllSuccess(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, _, _ := newHarness(inv)
	run := newRun("develop")

	stages := []types.StageSpec{
		{Name: "checkout", Command: "git checkout"},
		{Name: "test", Command: "pytest"},
	}

	cancelled := seq.Execute(context.Background(), run, stages)

	assert.False(t, cancelled)
	require.Len(t, run.Results, 2)
	for _, r := range run.Results {
		assert.Equal(t, types.OutcomeSuccess, r.Outcome)
		require.NotNil(t, r.CompletedAt)
	}
}

func TestStageEnvInjection(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, _, _ := newHarness(inv)
	run := newRun("main")

	seq.Execute(context.Background(), run, []types.StageSpec{
		{Name: "build", Command: "make build", Env: map[string]string{"EXTRA": "1"}},
	})

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "run-1", calls[0].Env["CONVEYOR_RUN_ID"])
	assert.Equal(t, "main", calls[0].Env["CONVEYOR_BRANCH"])
	assert.Equal(t, "7", calls[0].Env["CONVEYOR_BUILD_NUMBER"])
	assert.Equal(t, "1", calls[0].Env["EXTRA"])
}

func TestParallelWorstOfMembers(t *testing.T) {
	inv := &testutil.ScriptedInvoker{ExitCodes: map[string]int{"flake8": 1}}
	seq, _, _ := newHarness(inv)
	run := newRun("develop")

	stages := []types.StageSpec{
		{Name: "code-quality", Parallel: []types.StageSpec{
			{Name: "lint", Command: "flake8 .", Advisory: true},
			{Name: "security-scan", Command: "bandit -r .", Advisory: true},
		}},
		{Name: "test", Command: "pytest"},
	}

	cancelled := seq.Execute(context.Background(), run, stages)
	assert.False(t, cancelled)

	lint := resultFor(t, run, "lint")
	assert.Equal(t, types.OutcomeFailure, lint.Outcome)
	assert.True(t, lint.Advisory)

	scan := resultFor(t, run, "security-scan")
	assert.Equal(t, types.OutcomeSuccess, scan.Outcome)

	// Advisory member failure demotes to UNSTABLE in the parent aggregate.
	parent := resultFor(t, run, "code-quality")
	assert.Equal(t, types.OutcomeUnstable, parent.Outcome)

	// Advisory failure never aborts: the next stage still ran.
	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "test").Outcome)
}

func TestParallelSiblingNotCancelledByFailure(t *testing.T) {
	inv := &testutil.ScriptedInvoker{
		ExitCodes: map[string]int{"fast-fail": 1},
		Delay:     30 * time.Millisecond,
	}
	seq, _, _ := newHarness(inv)
	run := newRun("develop")

	stages := []types.StageSpec{
		{Name: "group", Parallel: []types.StageSpec{
			{Name: "a", Command: "fast-fail"},
			{Name: "b", Command: "slow-ok"},
		}},
		{Name: "after", Command: "true"},
	}

	seq.Execute(context.Background(), run, stages)

	// The sibling completed on its own terms despite the fatal failure.
	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "b").Outcome)
	assert.Equal(t, types.OutcomeFailure, resultFor(t, run, "group").Outcome)
	assert.Equal(t, types.OutcomeSkipped, resultFor(t, run, "after").Outcome)
}

func TestFatalFailureSkipsDownstreamAndRunsCleanup(t *testing.T) {
	inv := &testutil.ScriptedInvoker{ExitCodes: map[string]int{"pytest": 2}}
	seq, _, _ := newHarness(inv)
	run := newRun("main")

	stages := []types.StageSpec{
		{Name: "test", Command: "pytest"},
		{Name: "deploy-staging", Command: "deploy staging", Branches: []string{"main", "staging"}},
		{Name: "cleanup", Command: "docker system prune -f", AlwaysRun: true},
	}

	cancelled := seq.Execute(context.Background(), run, stages)
	assert.False(t, cancelled)

	assert.Equal(t, types.OutcomeFailure, resultFor(t, run, "test").Outcome)

	deploy := resultFor(t, run, "deploy-staging")
	assert.Equal(t, types.OutcomeSkipped, deploy.Outcome)
	assert.Equal(t, "earlier stage failed", deploy.Message)

	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "cleanup").Outcome)
	assert.True(t, inv.Invoked("docker system prune"))
}

func TestBranchGatingSkips(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, _, _ := newHarness(inv)
	run := newRun("develop")

	seq.Execute(context.Background(), run, []types.StageSpec{
		{Name: "deploy-staging", Command: "deploy", Branches: []string{"main", "staging"}},
	})

	res := resultFor(t, run, "deploy-staging")
	assert.Equal(t, types.OutcomeSkipped, res.Outcome)
	assert.False(t, inv.Invoked("deploy"))
}

func TestCancellationSkipsRemainingRunsCleanup(t *testing.T) {
	inv := &testutil.ScriptedInvoker{Delay: 100 * time.Millisecond}
	seq, _, _ := newHarness(inv)
	run := newRun("develop")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	defer cancel()

	stages := []types.StageSpec{
		{Name: "test", Command: "pytest"},
		{Name: "deploy-staging", Command: "deploy staging"},
		{Name: "cleanup", Command: "rm -rf build/", AlwaysRun: true},
	}

	cancelled := seq.Execute(ctx, run, stages)
	assert.True(t, cancelled)

	assert.Equal(t, types.OutcomeCancelled, resultFor(t, run, "test").Outcome)
	assert.Equal(t, types.OutcomeSkipped, resultFor(t, run, "deploy-staging").Outcome)
	// Cleanup runs detached from the cancelled context.
	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "cleanup").Outcome)
}

func TestApprovalApprovedProceeds(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, st, coord := newHarness(inv)
	run := newRun("main")

	stages := []types.StageSpec{
		{
			Name:     "deploy-production",
			Command:  "deploy production",
			Approval: &types.ApprovalSpec{Message: "Deploy to production?"},
		},
	}

	done := make(chan bool, 1)
	go func() {
		done <- seq.Execute(context.Background(), run, stages)
	}()

	var approvalID string
	testutil.WaitFor(t, 2*time.Second, func() bool {
		pending, err := st.ListPendingApprovals(context.Background())
		if err != nil || len(pending) == 0 {
			return false
		}
		approvalID = pending[0].ApprovalID
		return true
	}, "approval to be requested")

	require.NoError(t, coord.Resolve(context.Background(), approvalID, types.ApprovalApproved, "alice"))

	cancelled := <-done
	assert.False(t, cancelled)
	assert.Equal(t, "alice", run.Approver)
	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "deploy-production").Outcome)
	assert.True(t, inv.Invoked("deploy production"))
}

func TestApprovalRejectedSkipsStage(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, st, coord := newHarness(inv)
	run := newRun("main")

	stages := []types.StageSpec{
		{
			Name:     "deploy-production",
			Command:  "deploy production",
			Approval: &types.ApprovalSpec{Message: "Deploy to production?"},
		},
		{Name: "cleanup", Command: "true", AlwaysRun: true},
	}

	done := make(chan bool, 1)
	go func() {
		done <- seq.Execute(context.Background(), run, stages)
	}()

	var approvalID string
	testutil.WaitFor(t, 2*time.Second, func() bool {
		pending, err := st.ListPendingApprovals(context.Background())
		if err != nil || len(pending) == 0 {
			return false
		}
		approvalID = pending[0].ApprovalID
		return true
	}, "approval to be requested")

	require.NoError(t, coord.Resolve(context.Background(), approvalID, types.ApprovalRejected, "bob"))

	cancelled := <-done
	assert.False(t, cancelled)
	assert.Empty(t, run.Approver)

	// Declined, not failed: the stage is skipped and the run stays healthy.
	deploy := resultFor(t, run, "deploy-production")
	assert.Equal(t, types.OutcomeSkipped, deploy.Outcome)
	assert.Contains(t, deploy.Message, "REJECTED")
	assert.False(t, inv.Invoked("deploy production"))
	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "cleanup").Outcome)
}

func TestCancelledWhileAwaitingApproval(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	seq, st, _ := newHarness(inv)
	run := newRun("main")

	stages := []types.StageSpec{
		{
			Name:     "deploy-production",
			Command:  "deploy production",
			Approval: &types.ApprovalSpec{Message: "Deploy to production?"},
		},
		{Name: "report", Command: "report"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- seq.Execute(ctx, run, stages)
	}()

	testutil.WaitFor(t, 2*time.Second, func() bool {
		pending, err := st.ListPendingApprovals(context.Background())
		return err == nil && len(pending) > 0
	}, "approval to be requested")

	cancel()

	cancelled := <-done
	assert.True(t, cancelled)
	assert.Equal(t, types.OutcomeCancelled, resultFor(t, run, "deploy-production").Outcome)
	assert.Equal(t, types.OutcomeSkipped, resultFor(t, run, "report").Outcome)
}

// faultyApprovalStore simulates a broken approval backend.
type faultyApprovalStore struct {
	*memory.Store
}

func (f *faultyApprovalStore) PutApproval(ctx context.Context, approval types.PendingApproval) error {
	return errors.New("dynamodb unavailable")
}

func TestApprovalGateErrorAbortsDownstream(t *testing.T) {
	inv := &testutil.ScriptedInvoker{}
	st := &faultyApprovalStore{Store: memory.New()}
	coord := gate.NewCoordinator(st, slog.Default())
	seq := New(st, inv, coord, slog.Default())
	run := newRun("main")

	stages := []types.StageSpec{
		{
			Name:     "deploy-production",
			Command:  "deploy production",
			Approval: &types.ApprovalSpec{Message: "Deploy to production?"},
		},
		{Name: "report", Command: "report"},
		{Name: "cleanup", Command: "true", AlwaysRun: true},
	}

	cancelled := seq.Execute(context.Background(), run, stages)
	assert.False(t, cancelled)

	// A broken gate is a fatal failure, not a decline.
	deploy := resultFor(t, run, "deploy-production")
	assert.Equal(t, types.OutcomeFailure, deploy.Outcome)
	assert.Contains(t, deploy.Message, "approval gate error")
	assert.False(t, inv.Invoked("deploy production"))

	report := resultFor(t, run, "report")
	assert.Equal(t, types.OutcomeSkipped, report.Outcome)
	assert.False(t, inv.Invoked("report"))

	assert.Equal(t, types.OutcomeSuccess, resultFor(t, run, "cleanup").Outcome)
}
