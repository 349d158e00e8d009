// Package shell runs one-shot shell commands. Every call starts a fresh
// shell, so no state carries over between commands.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/shared"
)

// Runner executes a single shell command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Outcome maps captured output onto the runner contract: any stderr output
// is a failure regardless of exit status; otherwise stdout is returned
// untouched, or domain.NoOutputSentinel when empty.
func Outcome(stdout, stderr string) (string, error) {
	if stderr != "" {
		return "", domain.NewError(domain.KindShellCommandError, "%s", stderr)
	}
	if stdout == "" {
		return domain.NoOutputSentinel, nil
	}
	return stdout, nil
}

// TimeoutError is the failure returned when a command exceeds its max wait.
func TimeoutError(timeout time.Duration) error {
	return domain.NewError(domain.KindTimeout, "command timed out after %s", timeout)
}

// LocalRunner runs commands with `<shell> -c` on the host.
type LocalRunner struct {
	shell     string
	timeout   time.Duration
	maxOutput int
	dir       string
	logger    *slog.Logger
}

// LocalOption configures a LocalRunner.
type LocalOption func(*LocalRunner)

// WithTimeout bounds each command. Zero disables the bound.
func WithTimeout(d time.Duration) LocalOption {
	return func(r *LocalRunner) { r.timeout = d }
}

// WithMaxOutput bounds the bytes kept from each of stdout and stderr.
func WithMaxOutput(n int) LocalOption {
	return func(r *LocalRunner) { r.maxOutput = n }
}

// WithDir sets the working directory of every command.
func WithDir(dir string) LocalOption {
	return func(r *LocalRunner) { r.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LocalOption {
	return func(r *LocalRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLocalRunner creates a runner using shellPath (default /bin/sh).
func NewLocalRunner(shellPath string, opts ...LocalOption) *LocalRunner {
	if shellPath == "" {
		shellPath = "/bin/sh"
	}
	r := &LocalRunner{
		shell:     shellPath,
		maxOutput: DefaultMaxOutput,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a fresh shell for command and waits for it to exit.
func (r *LocalRunner) Run(ctx context.Context, command string) (string, error) {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Dir = r.dir
	// Background children may hold the pipes open after the shell is killed.
	cmd.WaitDelay = time.Second
	shared.SetProcessGroup(cmd)
	shared.KillGroupOnCancel(cmd)

	stdout := NewRingBuffer(r.maxOutput)
	stderr := NewRingBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			r.logger.Warn("Shell command timed out", "timeout", r.timeout, "command", preview(command))
			return "", TimeoutError(r.timeout)
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// Shell exited; a leftover child was cut off. Output so far stands.
		default:
			return "", domain.WrapError(domain.KindProcessSpawnFailure, fmt.Errorf("start shell: %w", runErr))
		}
	}

	r.logger.Debug("Shell command complete",
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
		"stdout_len", stdout.Len(),
		"stderr_len", stderr.Len(),
		"stdout_dropped", stdout.Dropped(),
	)

	return Outcome(stdout.String(), stderr.String())
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
