// Package testutil provides shared helpers for orchestrator tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwsmith1983/conveyor/internal/invoke"
	"github.com/dwsmith1983/conveyor/internal/notify"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// ScriptedInvoker returns scripted exit codes keyed by a substring of the
// command; unmatched commands succeed. It records every invocation.
type ScriptedInvoker struct {
	mu        sync.Mutex
	ExitCodes map[string]int
	Delay     time.Duration
	calls     []invoke.Command
}

// Run matches the command against the script and returns its exit code.
func (s *ScriptedInvoker) Run(ctx context.Context, cmd invoke.Command) (invoke.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return invoke.Result{}, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return invoke.Result{}, ctx.Err()
	}

	for pattern, code := range s.ExitCodes {
		if strings.Contains(cmd.Command, pattern) {
			return invoke.Result{ExitCode: code}, nil
		}
	}
	return invoke.Result{}, nil
}

// Calls returns a copy of the recorded invocations.
func (s *ScriptedInvoker) Calls() []invoke.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invoke.Command(nil), s.calls...)
}

// Invoked reports whether any recorded command contains the substring.
func (s *ScriptedInvoker) Invoked(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if strings.Contains(c.Command, pattern) {
			return true
		}
	}
	return false
}

// CaptureSink records dispatched notifications for assertions.
type CaptureSink struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

// Name returns the sink identifier.
func (s *CaptureSink) Name() string { return "capture" }

// Send records the notification.
func (s *CaptureSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

// Notifications returns a copy of everything sent so far.
func (s *CaptureSink) Notifications() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.notifications...)
}
