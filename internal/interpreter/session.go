package interpreter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/shsh-exec/internal/domain"
)

// Defaults for Options fields left zero.
const (
	DefaultQuietPeriod = 2 * time.Second
	DefaultQueueSize   = 32
)

// disposeGrace is how long Shutdown waits for a clean exit after closing stdin.
const disposeGrace = 3 * time.Second

// maxDrainPeriod caps the silence required after a rejected command.
const maxDrainPeriod = 250 * time.Millisecond

// State represents the lifecycle state of a Session.
type State int

const (
	// StateIdle indicates no command is in flight.
	StateIdle State = iota
	// StateAwaiting indicates a command was written and its output is being collected.
	StateAwaiting
	// StateClosed indicates the process exited or is being torn down. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configure a Session.
type Options struct {
	// QuietPeriod is how long stdout must stay silent before a command is
	// considered complete.
	QuietPeriod time.Duration
	// Timeout bounds a single command. Zero waits forever. On expiry the
	// session is killed and will be replaced on next use.
	Timeout    time.Duration
	QueueSize  int
	Classifier *Classifier
	Denoiser   *Denoiser
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Classifier == nil {
		o.Classifier = NewClassifier(nil, o.Logger)
	}
	if o.Denoiser == nil {
		o.Denoiser = NewDenoiser(nil)
	}
	return o
}

// chunk is one read from a subprocess pipe.
type chunk struct {
	text string
	at   time.Time
}

type result struct {
	output string
	err    error
}

type job struct {
	ctx   context.Context
	code  string
	reply chan result
}

// Session drives one persistent interpreter process. Commands are written
// to stdin one at a time in submission order; a single goroutine owns the
// in-flight command, the output buffer and both timers.
type Session struct {
	id        string
	proc      Process
	opts      Options
	logger    *slog.Logger
	createdAt time.Time

	jobs   chan *job
	stdout chan chunk
	stderr chan chunk
	exited chan struct{}
	done   chan struct{}

	exitErr     error // set before exited is closed
	disposeOnce sync.Once

	mu       sync.Mutex
	state    State
	commands int
	lastUsed time.Time
}

// NewSession spawns an interpreter and starts its event loop.
func NewSession(ctx context.Context, id string, spawner Spawner, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	proc, err := spawner.Spawn(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindProcessSpawnFailure, err)
	}

	now := time.Now()
	s := &Session{
		id:        id,
		proc:      proc,
		opts:      opts,
		logger:    opts.Logger.With("session_id", id),
		createdAt: now,
		jobs:      make(chan *job, opts.QueueSize),
		stdout:    make(chan chunk, 64),
		stderr:    make(chan chunk, 64),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
		lastUsed:  now,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(StreamStdout, proc.Stdout(), s.stdout, &readers)
	go s.pump(StreamStderr, proc.Stderr(), s.stderr, &readers)
	go func() {
		readers.Wait()
		s.exitErr = proc.Wait()
		close(s.exited)
	}()
	go s.run()

	s.logger.Info("Interpreter session started", "pid", proc.PID())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Submit queues code for execution and waits for its result. Output is the
// denoised stdout, or domain.NoOutputSentinel when there was none. Errors are
// *domain.Error values (InterpreterError, Timeout, ProcessExited) or ctx.Err().
func (s *Session) Submit(ctx context.Context, code string) (string, error) {
	if s.Closed() {
		return "", s.exitError()
	}

	j := &job{ctx: ctx, code: code, reply: make(chan result, 1)}
	select {
	case s.jobs <- j:
	case <-s.done:
		return "", s.exitError()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.output, r.err
	case <-s.done:
		select {
		case r := <-j.reply:
			return r.output, r.err
		default:
			return "", s.exitError()
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Dispose closes the interpreter's stdin so it exits on its own. A command
// still in flight settles through the normal exit path.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.logger.Info("Disposing interpreter session")
		if err := s.proc.Stdin().Close(); err != nil {
			s.logger.Debug("Closing interpreter stdin failed", "error", err)
		}
	})
}

// Shutdown disposes the session and waits for the process to exit,
// killing it if it has not exited within a short grace period or before
// ctx is done.
func (s *Session) Shutdown(ctx context.Context) {
	s.Dispose()

	grace := time.NewTimer(disposeGrace)
	defer grace.Stop()

	select {
	case <-s.done:
		return
	case <-grace.C:
	case <-ctx.Done():
	}

	s.logger.Warn("Interpreter did not exit after stdin closed, killing")
	if err := s.proc.Kill(); err != nil {
		s.logger.Error("Failed to kill interpreter", "error", err)
	}
	<-s.done
}

// Done is closed once the process has exited and all waiters were released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether the session can no longer accept commands.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot for status listings.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		ID:         s.id,
		PID:        s.proc.PID(),
		State:      s.state.String(),
		Pending:    len(s.jobs),
		Commands:   s.commands,
		CreatedAt:  s.createdAt,
		LastUsedAt: s.lastUsed,
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
	if state == StateAwaiting {
		s.commands++
		s.lastUsed = time.Now()
	}
}

func (s *Session) run() {
	defer close(s.done)

	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()
	deadline := time.NewTimer(time.Hour)
	deadline.Stop()
	defer deadline.Stop()
	// After a stderr rejection the failed command's remaining output may
	// still be in flight; no job is taken until the pipes stay quiet.
	drain := time.NewTimer(time.Hour)
	drain.Stop()
	defer drain.Stop()

	var (
		current  *job
		started  time.Time
		buffered []chunk
		dying    bool
		draining bool
	)
	stdout, stderr := s.stdout, s.stderr

	settle := func(r result) {
		quiet.Stop()
		deadline.Stop()
		s.setState(StateIdle)
		current.reply <- r
		attrs := []any{"elapsed", time.Since(started), "chunks", len(buffered)}
		if len(buffered) > 1 {
			attrs = append(attrs, "output_span", buffered[len(buffered)-1].at.Sub(buffered[0].at))
		}
		if r.err != nil {
			attrs = append(attrs, "error_kind", domain.KindOf(r.err))
		}
		s.logger.Debug("Interpreter command settled", attrs...)
		current = nil
		buffered = nil
	}

	for {
		var jobs chan *job
		if current == nil && !dying && !draining {
			jobs = s.jobs
		}

		select {
		case j := <-jobs:
			if err := j.ctx.Err(); err != nil {
				j.reply <- result{err: err}
				continue
			}
			if _, err := io.WriteString(s.proc.Stdin(), j.code+"\n\n"); err != nil {
				s.logger.Warn("Writing to interpreter stdin failed", "error", err)
				dying = true
				s.markClosed()
				j.reply <- result{err: domain.NewError(domain.KindProcessExited, "interpreter stdin closed: %v", err)}
				continue
			}
			current = j
			started = time.Now()
			s.setState(StateAwaiting)
			quiet.Reset(s.opts.QuietPeriod)
			if s.opts.Timeout > 0 {
				deadline.Reset(s.opts.Timeout)
			}

		case c, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			if current == nil {
				if draining {
					drain.Reset(s.drainPeriod())
				}
				s.logger.Debug("Discarding interpreter stdout while idle", "bytes", len(c.text))
				continue
			}
			buffered = append(buffered, c)
			quiet.Reset(s.opts.QuietPeriod)

		case c, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			if strings.TrimSpace(c.text) == "" {
				continue
			}
			if s.opts.Classifier.Classify(StreamStderr, c.text) == DecisionDecoration {
				continue
			}
			if current == nil {
				if draining {
					drain.Reset(s.drainPeriod())
					continue
				}
				s.logger.Warn("Discarding interpreter stderr while idle", "stderr", truncate(c.text, 200))
				continue
			}
			settle(result{err: domain.NewError(domain.KindInterpreterError, "%s", c.text)})
			draining = true
			drain.Reset(s.drainPeriod())

		case <-drain.C:
			draining = false

		case <-quiet.C:
			if current != nil {
				settle(result{output: s.render(buffered)})
			}

		case <-deadline.C:
			if current == nil {
				continue
			}
			s.logger.Warn("Interpreter command timed out, killing session", "timeout", s.opts.Timeout)
			dying = true
			s.markClosed()
			settle(result{err: domain.NewError(domain.KindTimeout, "execution timed out after %s", s.opts.Timeout)})
			if err := s.proc.Kill(); err != nil {
				s.logger.Error("Failed to kill interpreter", "error", err)
			}

		case <-s.exited:
			s.markClosed()
			err := s.exitError()
			s.logger.Info("Interpreter session exited", "exit_error", s.exitErr)
			if current != nil {
				current.reply <- result{err: err}
			}
			for {
				select {
				case j := <-s.jobs:
					j.reply <- result{err: err}
				default:
					return
				}
			}
		}
	}
}

// drainPeriod is how long the pipes must stay silent after a rejected
// command before the next one is written.
func (s *Session) drainPeriod() time.Duration {
	return min(s.opts.QuietPeriod, maxDrainPeriod)
}

func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// render turns the buffered stdout of one command into its result text.
func (s *Session) render(buffered []chunk) string {
	var b strings.Builder
	for _, c := range buffered {
		if s.opts.Classifier.Classify(StreamStdout, c.text) == DecisionDecoration {
			continue
		}
		b.WriteString(s.opts.Denoiser.Denoise(c.text))
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return domain.NoOutputSentinel
	}
	return out
}

func (s *Session) exitError() error {
	select {
	case <-s.exited:
		if s.exitErr != nil {
			return domain.NewError(domain.KindProcessExited, "interpreter process exited: %v", s.exitErr)
		}
	default:
	}
	return domain.NewError(domain.KindProcessExited, "interpreter process exited")
}

func (s *Session) pump(stream Stream, r io.Reader, out chan<- chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)

	buf := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(pending, buf[:n]...)
			var complete []byte
			complete, pending = splitUTF8(data)
			if len(complete) > 0 {
				out <- chunk{text: string(complete), at: time.Now()}
			}
			pending = append([]byte(nil), pending...)
		}
		if err != nil {
			if len(pending) > 0 {
				out <- chunk{text: string(pending), at: time.Now()}
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Debug("Interpreter pipe read failed", "stream", stream, "error", err)
			}
			return
		}
	}
}

// splitUTF8 splits b before a trailing multi-byte sequence that is not yet
// complete, so a rune cut by a read boundary is carried to the next read.
func splitUTF8(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
