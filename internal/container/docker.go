// Package container runs one-shot shell commands inside an existing Docker
// container via the exec API.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/shell"
)

// ErrContainerNotFound is returned when the sandbox container does not exist.
var ErrContainerNotFound = errors.New("container not found")

// execBackend is the slice of the Docker API the runner needs.
type execBackend interface {
	IsRunning(ctx context.Context, containerID string) (bool, error)
	Exec(ctx context.Context, containerID string, cmd []string, user string, stdout, stderr io.Writer) (int, error)
	Close() error
}

// dockerBackend implements execBackend with the Docker Engine API client.
type dockerBackend struct {
	cli *client.Client
}

func newDockerBackend() (*dockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &dockerBackend{cli: cli}, nil
}

func (b *dockerBackend) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := b.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Exec runs cmd without a TTY so stdout and stderr stay separate, and
// returns the exit code once the output streams close.
func (b *dockerBackend) Exec(ctx context.Context, containerID string, cmd []string, user string, stdout, stderr io.Writer) (int, error) {
	execConfig := container.ExecOptions{
		Cmd:          cmd,
		User:         user,
		AttachStdout: true,
		AttachStderr: true,
	}

	resp, err := b.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return 0, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attachResp, err := b.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return 0, fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	// The hijacked connection ignores ctx; close it to unblock the copy.
	stop := context.AfterFunc(ctx, attachResp.Close)
	defer stop()

	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("read exec %s output: %w", resp.ID, err)
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return 0, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	return inspect.ExitCode, nil
}

func (b *dockerBackend) Close() error { return b.cli.Close() }

// Runner implements shell.Runner by running `sh -c` in a sandbox container.
type Runner struct {
	backend   execBackend
	container string
	user      string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// Config configures a Runner.
type Config struct {
	Container string
	User      string // Empty uses the container's default user.
	Timeout   time.Duration
	MaxOutput int
	Logger    *slog.Logger
}

// NewRunner connects to the Docker daemon from the environment (DOCKER_HOST etc).
func NewRunner(cfg Config) (*Runner, error) {
	backend, err := newDockerBackend()
	if err != nil {
		return nil, err
	}
	return newRunner(backend, cfg), nil
}

func newRunner(backend execBackend, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = shell.DefaultMaxOutput
	}
	cfg.Logger.Info("Docker shell runner initialized", "container", cfg.Container, "timeout", cfg.Timeout)
	return &Runner{
		backend:   backend,
		container: cfg.Container,
		user:      cfg.User,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
		logger:    cfg.Logger,
	}
}

// Ready reports whether the sandbox container exists and is running.
func (r *Runner) Ready(ctx context.Context) error {
	running, err := r.backend.IsRunning(ctx, r.container)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s is not running", r.container)
	}
	return nil
}

// Run executes command in a fresh exec. Stderr output makes it a failure,
// as with the local runner.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	if err := r.Ready(ctx); err != nil {
		return "", domain.WrapError(domain.KindProcessSpawnFailure, err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	stdout := shell.NewRingBuffer(r.maxOutput)
	stderr := shell.NewRingBuffer(r.maxOutput)

	start := time.Now()
	exitCode, err := r.backend.Exec(runCtx, r.container, []string{"sh", "-c", command}, r.user, stdout, stderr)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			// The exec API has no kill; the command may keep running in the container.
			r.logger.Warn("Container command timed out", "container", r.container, "timeout", r.timeout)
			return "", shell.TimeoutError(r.timeout)
		default:
			return "", domain.WrapError(domain.KindProcessSpawnFailure, err)
		}
	}

	r.logger.Debug("Container command complete",
		"container", r.container,
		"exit_code", exitCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_len", stdout.Len(),
		"stderr_len", stderr.Len(),
	)

	return shell.Outcome(stdout.String(), stderr.String())
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	return r.backend.Close()
}
