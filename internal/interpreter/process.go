package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ashureev/shsh-exec/internal/shared"
)

// Process is a running interpreter with separate stdio pipes.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. It is called once, after both
	// output pipes have reached EOF.
	Wait() error
	Kill() error
	PID() int
}

// Spawner starts interpreter processes.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// SpawnFunc adapts a function to the Spawner interface.
type SpawnFunc func(ctx context.Context) (Process, error)

// Spawn calls f(ctx).
func (f SpawnFunc) Spawn(ctx context.Context) (Process, error) { return f(ctx) }

// ExecSpawner starts a local subprocess, e.g. "python3 -i -q -u".
type ExecSpawner struct {
	Command []string
	Dir     string
	Env     []string // Appended to the server's environment.
}

// Spawn starts the configured command. The process is not tied to ctx:
// sessions outlive the request that created them.
func (e ExecSpawner) Spawn(ctx context.Context) (Process, error) {
	if len(e.Command) == 0 {
		return nil, errors.New("interpreter command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, e.Env...)
	// Unblock Wait if a grandchild keeps the pipes open after a kill.
	cmd.WaitDelay = 2 * time.Second
	shared.SetProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Command[0], err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	if err := shared.KillProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
