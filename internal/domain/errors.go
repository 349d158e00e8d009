package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures. Every kind is reported to the
// caller inside the reply envelope; none of them is fatal to the server.
type ErrorKind string

const (
	KindMissingSessionID    ErrorKind = "missing_session_id"
	KindMalformedRequest    ErrorKind = "malformed_request"
	KindProcessSpawnFailure ErrorKind = "process_spawn_failure"
	KindInterpreterError    ErrorKind = "interpreter_error"
	KindShellCommandError   ErrorKind = "shell_command_error"
	KindTimeout             ErrorKind = "timeout"
	KindProcessExited       ErrorKind = "process_exited"
)

// MissingSessionIDText is the reply data when a code request has no pythonShellId.
const MissingSessionIDText = "pythonShellId is null"

// Sentinel errors usable with errors.Is against any *Error of the same kind.
var (
	ErrMissingSessionID    = &Error{Kind: KindMissingSessionID}
	ErrMalformedRequest    = &Error{Kind: KindMalformedRequest}
	ErrProcessSpawnFailure = &Error{Kind: KindProcessSpawnFailure}
	ErrInterpreter         = &Error{Kind: KindInterpreterError}
	ErrShellCommand        = &Error{Kind: KindShellCommandError}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrProcessExited       = &Error{Kind: KindProcessExited}
)

// Error is an execution failure. Text is what the caller sees; for
// interpreter and shell errors it is the raw stderr output.
type Error struct {
	Kind ErrorKind
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can use the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an *Error with a formatted caller-facing text.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Text: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error around a cause. The caller-facing text is the cause's message.
func WrapError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
