package invoke

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	res, err := NewExecInvoker().Run(context.Background(), Command{Command: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunNonzeroExit(t *testing.T) {
	res, err := NewExecInvoker().Run(context.Background(), Command{Command: "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunEnvOverride(t *testing.T) {
	res, err := NewExecInvoker().Run(context.Background(), Command{
		Command: "printf %s \"$CONVEYOR_TEST_VAR\"",
		Env:     map[string]string{"CONVEYOR_TEST_VAR": "staging"},
	})
	require.NoError(t, err)
	assert.Equal(t, "staging", res.Stdout)
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := NewExecInvoker().Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecInvoker().Run(ctx, Command{Command: "sleep 10"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	assert.NoError(t, HTTPCheck(context.Background(), healthy.URL, time.Second))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	assert.Error(t, HTTPCheck(context.Background(), failing.URL, time.Second))
}
