// Package invoke is the boundary for running external tools. Stage bodies
// (dependency install, lint, security scan, tests, smoke checks) are opaque
// synchronous invocations; only the exit code and captured output cross back
// into the orchestrator.
package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// Command describes one external invocation.
type Command struct {
	Command string
	WorkDir string
	Env     map[string]string
}

// Result carries the invocation outcome back to the caller.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Invoker runs external commands. The exec implementation is the production
// path; tests substitute scripted invokers.
type Invoker interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecInvoker runs commands through the shell, inheriting the parent
// environment plus per-command overrides.
type ExecInvoker struct{}

// NewExecInvoker creates an ExecInvoker.
func NewExecInvoker() *ExecInvoker { return &ExecInvoker{} }

// Run executes the command and captures its output. A nonzero exit is
// reported through Result.ExitCode, not the error; the error is reserved for
// failures to start the process or a cancelled context.
func (e *ExecInvoker) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Command == "" {
		return Result{}, fmt.Errorf("command is empty")
	}

	c := exec.CommandContext(ctx, "sh", "-c", cmd.Command)
	if cmd.WorkDir != "" {
		c.Dir = cmd.WorkDir
	}
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("starting command: %w", err)
	}
	return res, nil
}

// HTTPCheck probes a URL with a GET request, treating any status below 400 as
// healthy. Used for build smoke tests and integration probes.
func HTTPCheck(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("smoke check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("smoke check returned status %d", resp.StatusCode)
	}
	return nil
}
