// Package domain contains the request, reply and record types shared by the
// execution service packages.
package domain

import "time"

// NoOutputSentinel is returned when an execution succeeds without output.
const NoOutputSentinel = "executed successfully, no output"

// EnvelopeCode is the only status code ever carried in an Envelope.
const EnvelopeCode = 200

// ExecutionKind says which execution path a request takes.
type ExecutionKind string

const (
	KindCode    ExecutionKind = "code"
	KindCommand ExecutionKind = "command"
)

// ExecutionData carries exactly one of Code or Command.
type ExecutionData struct {
	Code    *string `json:"code,omitempty"`
	Command *string `json:"command,omitempty"`
}

// CommandRequest is the inbound request body.
type CommandRequest struct {
	ExecutionData ExecutionData `json:"executionData"`
	PythonShellID *string       `json:"pythonShellId"`
}

// Envelope is the reply body. Code is always EnvelopeCode; failures are
// reported through Data.
type Envelope struct {
	Data string `json:"data"`
	Code int    `json:"code"`
}

// NewEnvelope wraps reply text.
func NewEnvelope(data string) Envelope {
	return Envelope{Data: data, Code: EnvelopeCode}
}

// Execution is one settled request, as kept in the history store.
type Execution struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id,omitempty"`
	Kind       ExecutionKind `json:"kind"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Failed     bool          `json:"failed"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SessionInfo is a point-in-time view of an interpreter session.
type SessionInfo struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	Pending    int       `json:"pending"`
	Commands   int       `json:"commands"`
	Restarts   int       `json:"restarts"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}
