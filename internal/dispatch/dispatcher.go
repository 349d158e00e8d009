// Package dispatch routes execution requests to the interpreter registry
// or the one-shot shell runner and wraps every outcome in a reply envelope.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/interpreter"
	"github.com/ashureev/shsh-exec/internal/metrics"
)

const recordTimeout = 5 * time.Second

// Interpreter runs code in a persistent session.
type Interpreter interface {
	Submit(ctx context.Context, sessionID, code string) (string, error)
}

// Runner runs a one-shot shell command.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Recorder persists settled executions.
type Recorder interface {
	RecordExecution(ctx context.Context, exec *domain.Execution) error
}

// Dispatcher is the single entry point for execution requests.
type Dispatcher struct {
	interp   Interpreter
	runner   Runner
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder stores every settled execution.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(interp Interpreter, runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{interp: interp, runner: runner, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchJSON parses body and dispatches it. Parse failures are reported
// in the envelope like any other failure.
func (d *Dispatcher) DispatchJSON(ctx context.Context, body []byte) domain.Envelope {
	req, err := ParseRequest(body)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("unknown", outcomeLabel(err)).Inc()
		d.logger.Warn("Rejected malformed request", "error", err)
		return domain.NewEnvelope(err.Error())
	}
	return d.Dispatch(ctx, req)
}

// Dispatch executes req. The envelope is always code 200; failures carry
// their error text as data. Nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.CommandRequest) domain.Envelope {
	if err := Validate(req); err != nil {
		metrics.ExecutionsTotal.WithLabelValues("unknown", outcomeLabel(err)).Inc()
		return domain.NewEnvelope(err.Error())
	}

	exec := &domain.Execution{CreatedAt: time.Now()}
	var (
		out string
		err error
	)
	start := time.Now()

	if req.ExecutionData.Code != nil {
		exec.Kind = domain.KindCode
		exec.Input = *req.ExecutionData.Code
		var id string
		if id, err = interpreter.RequireSessionID(req.PythonShellID); err == nil {
			exec.SessionID = id
			out, err = d.interp.Submit(ctx, id, exec.Input)
		}
	} else {
		exec.Kind = domain.KindCommand
		exec.Input = *req.ExecutionData.Command
		out, err = d.runner.Run(ctx, exec.Input)
	}

	elapsed := time.Since(start)
	exec.DurationMS = elapsed.Milliseconds()
	if err != nil {
		exec.Failed = true
		exec.ErrorKind = domain.KindOf(err)
		exec.Output = err.Error()
	} else {
		exec.Output = out
	}

	metrics.ExecutionsTotal.WithLabelValues(string(exec.Kind), outcomeLabel(err)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Kind)).Observe(elapsed.Seconds())

	d.logger.Info("Execution settled",
		"kind", exec.Kind,
		"session_id", exec.SessionID,
		"failed", exec.Failed,
		"error_kind", exec.ErrorKind,
		"duration_ms", exec.DurationMS,
	)
	d.record(ctx, exec)

	return domain.NewEnvelope(exec.Output)
}

func (d *Dispatcher) record(ctx context.Context, exec *domain.Execution) {
	if d.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.recorder.RecordExecution(rctx, exec); err != nil {
		d.logger.Error("Failed to record execution", "kind", exec.Kind, "error", err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
