package interpreter

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fakePIDs atomic.Int32

// fakeHandler reacts to one line of code read from the fake's stdin.
type fakeHandler func(p *fakeProcess, line string)

// fakeProcess is an in-memory interpreter driven by a handler. It exits
// when stdin is closed, when Kill is called, or when a handler calls exit.
type fakeProcess struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done    chan struct{}
	once    sync.Once
	exitErr error

	mu       sync.Mutex
	received []string
}

func newFakeProcess(greeting string, handle fakeHandler) *fakeProcess {
	p := &fakeProcess{
		pid:  int(fakePIDs.Add(1)),
		done: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go func() {
		if greeting != "" {
			p.errOut(greeting)
		}
		sc := bufio.NewScanner(p.stdinR)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			p.mu.Lock()
			p.received = append(p.received, line)
			p.mu.Unlock()
			if handle != nil {
				handle(p, line)
			}
		}
		p.exit(nil)
	}()
	return p
}

func (p *fakeProcess) out(s string)    { _, _ = io.WriteString(p.stdoutW, s) }
func (p *fakeProcess) errOut(s string) { _, _ = io.WriteString(p.stderrW, s) }

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.stdinR.Close()
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.done)
	})
}

func (p *fakeProcess) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Kill() error           { p.exit(nil); return nil }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.exitErr
}

type fakeSpawner struct {
	greeting string
	handle   fakeHandler
	delay    time.Duration
	fail     error

	calls atomic.Int32
	mu    sync.Mutex
	procs []*fakeProcess
}

func (f *fakeSpawner) Spawn(ctx context.Context) (Process, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		return nil, f.fail
	}
	p := newFakeProcess(f.greeting, f.handle)
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeSpawner) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

func testOptions(quiet time.Duration) Options {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Options{
		QuietPeriod: quiet,
		Logger:      logger,
		Classifier:  NewClassifier(nil, logger),
		Denoiser:    NewDenoiser(nil),
	}
}

func newTestSession(t *testing.T, spawner *fakeSpawner, opts Options) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), "test", spawner, opts)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
