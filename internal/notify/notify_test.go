package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

func TestDetermine(t *testing.T) {
	tests := []struct {
		name      string
		results   []types.StageResult
		cancelled bool
		want      types.NotificationEvent
	}{
		{
			name: "all success",
			results: []types.StageResult{
				{Stage: "test", Outcome: types.OutcomeSuccess},
				{Stage: "deploy", Outcome: types.OutcomeSuccess},
			},
			want: types.NotifySuccess,
		},
		{
			name: "required failure wins over advisory failure",
			results: []types.StageResult{
				{Stage: "lint", Outcome: types.OutcomeFailure, Advisory: true},
				{Stage: "test", Outcome: types.OutcomeFailure},
			},
			want: types.NotifyFailure,
		},
		{
			name: "advisory failure alone is unstable",
			results: []types.StageResult{
				{Stage: "lint", Outcome: types.OutcomeFailure, Advisory: true},
				{Stage: "test", Outcome: types.OutcomeSuccess},
			},
			want: types.NotifyUnstable,
		},
		{
			name: "unstable outcome is unstable",
			results: []types.StageResult{
				{Stage: "security", Outcome: types.OutcomeUnstable},
				{Stage: "test", Outcome: types.OutcomeSuccess},
			},
			want: types.NotifyUnstable,
		},
		{
			name: "cancelled stage is failure class",
			results: []types.StageResult{
				{Stage: "test", Outcome: types.OutcomeCancelled},
			},
			want: types.NotifyFailure,
		},
		{
			name: "skipped stages contribute nothing",
			results: []types.StageResult{
				{Stage: "deploy-staging", Outcome: types.OutcomeSkipped},
				{Stage: "test", Outcome: types.OutcomeSuccess},
			},
			want: types.NotifySuccess,
		},
		{
			name:    "empty results succeed",
			results: nil,
			want:    types.NotifySuccess,
		},
		{
			name: "run cancelled between stages is failure class",
			results: []types.StageResult{
				{Stage: "checkout", Outcome: types.OutcomeSkipped, Message: "run cancelled"},
				{Stage: "test", Outcome: types.OutcomeSkipped, Message: "run cancelled"},
			},
			cancelled: true,
			want:      types.NotifyFailure,
		},
		{
			name:      "run cancelled before any stage is failure class",
			results:   nil,
			cancelled: true,
			want:      types.NotifyFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Determine(tt.results, tt.cancelled))
		})
	}
}

func TestBuildBodyContents(t *testing.T) {
	completed := time.Now()
	run := types.PipelineRun{
		RunID:       "01JC0000000000000000000000",
		Pipeline:    "webapp",
		BuildNumber: 42,
		Branch:      "main",
		Status:      types.RunSucceeded,
		Approver:    "alice",
		CreatedAt:   completed.Add(-90 * time.Second),
		CompletedAt: &completed,
	}

	n := Build(run, types.NotifySuccess, "https://ci.example.com", []string{"team@example.com"})

	assert.Equal(t, "SUCCESS: webapp #42", n.Subject)
	assert.Contains(t, n.Body, "Run: 01JC0000000000000000000000")
	assert.Contains(t, n.Body, "Build: #42")
	assert.Contains(t, n.Body, "https://ci.example.com/runs/01JC0000000000000000000000")
	assert.Contains(t, n.Body, "Duration: 1m30s")
	assert.Contains(t, n.Body, "Approved by: alice")
	assert.Contains(t, n.Body, "Deployment completed successfully")
	assert.Equal(t, []string{"team@example.com"}, n.Recipients)
}

func TestBuildEventSpecificText(t *testing.T) {
	run := types.PipelineRun{RunID: "r1", Pipeline: "webapp", Status: types.RunFailed, CreatedAt: time.Now()}
	n := Build(run, types.NotifyFailure, "", nil)
	assert.Contains(t, n.Body, "Check the logs")
	assert.NotContains(t, n.Body, "Approved by")

	run.Status = types.RunUnstable
	n = Build(run, types.NotifyUnstable, "", nil)
	assert.Contains(t, n.Body, "did not pass cleanly")

	run.Status = types.RunCancelled
	n = Build(run, types.NotifyFailure, "", nil)
	assert.Contains(t, n.Body, "cancelled")
}

// flakySink fails a scripted number of times before succeeding.
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Send(_ context.Context, _ Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("delivery refused")
	}
	return nil
}

func TestDispatchRetriesOnce(t *testing.T) {
	sink := &flakySink{failures: 1}
	d := NewDispatcherWithSinks(slog.Default(), sink)

	d.Dispatch(context.Background(), Notification{RunID: "r1"})
	assert.Equal(t, 2, sink.calls)
}

func TestDispatchDropsAfterSingleRetry(t *testing.T) {
	sink := &flakySink{failures: 10}
	d := NewDispatcherWithSinks(slog.Default(), sink)

	// Must not loop: one attempt plus one retry, then drop.
	d.Dispatch(context.Background(), Notification{RunID: "r1"})
	assert.Equal(t, 2, sink.calls)
}

func TestDispatchContinuesPastFailedSink(t *testing.T) {
	bad := &flakySink{failures: 10}
	good := &flakySink{}
	d := NewDispatcherWithSinks(slog.Default(), bad, good)

	d.Dispatch(context.Background(), Notification{RunID: "r1"})
	assert.Equal(t, 1, good.calls)
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher([]types.NotifierConfig{{Type: types.NotifierWebhook}}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "webhook URL required"))

	_, err = NewDispatcher([]types.NotifierConfig{{Type: "pager"}}, nil)
	assert.Error(t, err)

	d, err := NewDispatcher([]types.NotifierConfig{{Type: types.NotifierConsole}}, nil)
	require.NoError(t, err)
	assert.NotNil(t, d)
}
