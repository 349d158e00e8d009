package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/shsh-exec/internal/domain"
)

const pythonBanner = "Python 3.12.1 (main, Dec 18 2023, 00:00:00) [GCC 13.2.0] on linux\n" +
	"Type \"help\", \"copyright\", \"credits\" or \"license\" for more information.\n>>> "

func TestSessionResolvesAfterQuietPeriod(t *testing.T) {
	t.Parallel()
	quiet := 100 * time.Millisecond
	sp := &fakeSpawner{greeting: pythonBanner, handle: func(p *fakeProcess, line string) {
		if line == "print('hi')" {
			p.out("hi\n")
		}
		p.errOut(">>> ")
	}}
	s := newTestSession(t, sp, testOptions(quiet))

	start := time.Now()
	out, err := s.Submit(context.Background(), "print('hi')")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out != "hi" {
		t.Errorf("Submit() = %q, want %q", out, "hi")
	}
	if elapsed := time.Since(start); elapsed < quiet {
		t.Errorf("resolved after %v, before the quiet period of %v", elapsed, quiet)
	}
}

func TestSessionConcatenatesChunksInArrivalOrder(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		p.out("a")
		time.Sleep(30 * time.Millisecond)
		p.out("b")
		time.Sleep(30 * time.Millisecond)
		p.out("c\n")
	}}
	s := newTestSession(t, sp, testOptions(150*time.Millisecond))

	out, err := s.Submit(context.Background(), "go")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out != "abc" {
		t.Errorf("Submit() = %q, want %q", out, "abc")
	}
}

func TestSessionEmptyOutputReturnsSentinel(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		p.errOut(">>> ")
		p.errOut(">>> ")
	}}
	s := newTestSession(t, sp, testOptions(50*time.Millisecond))

	out, err := s.Submit(context.Background(), "x = 41")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out != domain.NoOutputSentinel {
		t.Errorf("Submit() = %q, want sentinel", out)
	}
}

func TestSessionStderrShortCircuits(t *testing.T) {
	t.Parallel()
	const traceback = "Traceback (most recent call last):\n  File \"<stdin>\", line 1, in <module>\nNameError: name 'y' is not defined\n"
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		p.errOut(traceback)
	}}
	s := newTestSession(t, sp, testOptions(5*time.Second))

	start := time.Now()
	_, err := s.Submit(context.Background(), "y")
	if !errors.Is(err, domain.ErrInterpreter) {
		t.Fatalf("Submit() error = %v, want interpreter error", err)
	}
	if err.Error() != traceback {
		t.Errorf("error text = %q, want raw stderr", err.Error())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stderr took %v to reject, expected no debounce", elapsed)
	}

	if got := s.State(); got != StateIdle {
		t.Errorf("State() = %v after error, want idle", got)
	}
}

func TestSessionRejectedOutputDoesNotLeak(t *testing.T) {
	t.Parallel()
	const traceback = "Traceback (most recent call last):\nZeroDivisionError: division by zero\n"
	sp := &fakeSpawner{handle: func(p *fakeProcess, line string) {
		switch line {
		case "print('a'); 1/0":
			p.out("a\n")
			p.errOut(traceback)
		case "late":
			p.errOut(traceback)
			time.Sleep(50 * time.Millisecond)
			p.out("late\n")
		}
		p.errOut(">>> ")
	}}

	for i := range 10 {
		s := newTestSession(t, sp, testOptions(100*time.Millisecond))
		ctx := context.Background()

		failing := "print('a'); 1/0"
		if i%2 == 1 {
			failing = "late"
		}
		if _, err := s.Submit(ctx, failing); !errors.Is(err, domain.ErrInterpreter) {
			t.Fatalf("run %d: Submit(%q) error = %v, want interpreter error", i, failing, err)
		}
		out, err := s.Submit(ctx, "y = 1")
		if err != nil || out != domain.NoOutputSentinel {
			t.Errorf("run %d: Submit(y = 1) after %q = %q, %v; want sentinel", i, failing, out, err)
		}
	}
}

func TestSessionIgnoresDecoration(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{greeting: pythonBanner, handle: func(p *fakeProcess, _ string) {
		p.errOut("... ")
		p.errOut("   \n")
		p.out("Out[1]: \x1b[1m2\x1b[0m\n")
		p.errOut(">>> >>> ")
	}}
	s := newTestSession(t, sp, testOptions(100*time.Millisecond))

	out, err := s.Submit(context.Background(), "1 + 1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out != "2" {
		t.Errorf("Submit() = %q, want %q", out, "2")
	}
}

func TestSessionRunsCommandsInSubmissionOrder(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, line string) {
		if line == "one" {
			time.Sleep(100 * time.Millisecond)
		}
		p.out(line + "\n")
	}}
	s := newTestSession(t, sp, testOptions(300*time.Millisecond))

	codes := []string{"one", "two", "three"}
	results := make([]chan string, len(codes))
	for i, code := range codes {
		results[i] = make(chan string, 1)
		go func(i int, code string) {
			out, err := s.Submit(context.Background(), code)
			if err != nil {
				out = "error: " + err.Error()
			}
			results[i] <- out
		}(i, code)

		want := i
		if i == 0 {
			waitFor(t, "first command in flight", func() bool { return s.State() == StateAwaiting })
		} else {
			waitFor(t, fmt.Sprintf("%d queued", want), func() bool { return s.Info().Pending == want })
		}
	}

	for i, code := range codes {
		select {
		case out := <-results[i]:
			if out != code {
				t.Errorf("result %d = %q, want %q", i, out, code)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", code)
		}
	}

	if got := strings.Join(sp.last().lines(), ","); got != "one,two,three" {
		t.Errorf("interpreter saw %q, want one,two,three", got)
	}
	if got := s.Info().Commands; got != 3 {
		t.Errorf("Commands = %d, want 3", got)
	}
}

func TestSessionDiscardsStdoutWhileIdle(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, line string) {
		p.out(line + "\n")
		if line == "first" {
			go func() {
				time.Sleep(250 * time.Millisecond)
				p.out("stray\n")
			}()
		}
	}}
	s := newTestSession(t, sp, testOptions(100*time.Millisecond))

	if out, err := s.Submit(context.Background(), "first"); err != nil || out != "first" {
		t.Fatalf("Submit(first) = %q, %v", out, err)
	}
	time.Sleep(400 * time.Millisecond)
	if out, err := s.Submit(context.Background(), "second"); err != nil || out != "second" {
		t.Fatalf("Submit(second) = %q, %v; stray idle output leaked", out, err)
	}
}

func TestSessionTimeoutKillsSession(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		<-p.done
	}}
	opts := testOptions(time.Second)
	opts.Timeout = 100 * time.Millisecond
	s := newTestSession(t, sp, opts)

	_, err := s.Submit(context.Background(), "while True: pass")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Submit() error = %v, want timeout", err)
	}
	if !s.Closed() {
		t.Error("session should be closed after a timeout")
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after kill")
	}

	if _, err := s.Submit(context.Background(), "1"); !errors.Is(err, domain.ErrProcessExited) {
		t.Errorf("Submit() after timeout error = %v, want process exited", err)
	}
}

func TestSessionProcessExitRejectsInFlightAndQueued(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, line string) {
		if line == "exit()" {
			time.Sleep(100 * time.Millisecond)
			p.exit(errors.New("exit status 3"))
		}
	}}
	s := newTestSession(t, sp, testOptions(time.Second))

	first := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "exit()")
		first <- err
	}()
	waitFor(t, "exit() in flight", func() bool { return s.State() == StateAwaiting })

	_, err := s.Submit(context.Background(), "print('never')")
	if !errors.Is(err, domain.ErrProcessExited) {
		t.Errorf("queued Submit() error = %v, want process exited", err)
	}
	if err := <-first; !errors.Is(err, domain.ErrProcessExited) {
		t.Errorf("in-flight Submit() error = %v, want process exited", err)
	} else if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error text = %q, want exit status", err.Error())
	}
	if !s.Closed() {
		t.Error("session should be closed after process exit")
	}
}

func TestSessionDispose(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{}
	s := newTestSession(t, sp, testOptions(50*time.Millisecond))

	s.Dispose()
	s.Dispose()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after Dispose")
	}
	if _, err := s.Submit(context.Background(), "1"); !errors.Is(err, domain.ErrProcessExited) {
		t.Errorf("Submit() after Dispose error = %v, want process exited", err)
	}
}

func TestSessionSubmitHonoursContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		<-release
		p.out("late\n")
	}}
	s := newTestSession(t, sp, testOptions(time.Second))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.Submit(ctx, "slow()"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v, want deadline exceeded", err)
	}
}

func TestNewSessionSpawnFailure(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{fail: errors.New(`exec: "python3": executable file not found in $PATH`)}
	_, err := NewSession(context.Background(), "x", sp, testOptions(time.Second))
	if !errors.Is(err, domain.ErrProcessSpawnFailure) {
		t.Fatalf("NewSession() error = %v, want spawn failure", err)
	}
	if !strings.Contains(err.Error(), "executable file not found") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestSplitUTF8(t *testing.T) {
	t.Parallel()
	e := []byte("é") // 0xc3 0xa9
	euro := []byte("€")

	tests := []struct {
		name         string
		in           []byte
		wantComplete string
		wantRest     []byte
	}{
		{"ascii", []byte("abc"), "abc", nil},
		{"whole rune", append([]byte("caf"), e...), "café", nil},
		{"cut two-byte rune", append([]byte("caf"), e[0]), "caf", e[:1]},
		{"cut three-byte rune", append([]byte("x"), euro[:2]...), "x", euro[:2]},
		{"only partial", euro[:1], "", euro[:1]},
		{"invalid byte passes through", []byte{'a', 0xff}, "a\xff", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, rest := splitUTF8(tt.in)
			if string(complete) != tt.wantComplete || string(rest) != string(tt.wantRest) {
				t.Errorf("splitUTF8(%q) = %q, %q; want %q, %q", tt.in, complete, rest, tt.wantComplete, tt.wantRest)
			}
		})
	}
}

func TestSessionJoinsRuneSplitAcrossReads(t *testing.T) {
	t.Parallel()
	sp := &fakeSpawner{handle: func(p *fakeProcess, _ string) {
		p.out("caf\xc3")
		p.out("\xa9 \x1b[1m\xe2\x82")
		p.out("\xac\x1b[0m\n")
	}}
	s := newTestSession(t, sp, testOptions(100*time.Millisecond))

	out, err := s.Submit(context.Background(), "print('café €')")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out != "café €" {
		t.Errorf("Submit() = %q, want %q", out, "café €")
	}
}
