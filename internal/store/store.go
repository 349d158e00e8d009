// Package store provides persistence for the execution history.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-exec/internal/domain"
)

// DefaultListLimit caps ListExecutions when no limit is given.
const DefaultListLimit = 50

// MaxListLimit is the largest accepted limit.
const MaxListLimit = 500

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	SessionID string
	Kind      domain.ExecutionKind
	Limit     int
}

// Repository defines the interface for persisting settled executions.
type Repository interface {
	// RecordExecution stores one settled execution. Empty ID and zero
	// CreatedAt are filled in.
	RecordExecution(ctx context.Context, exec *domain.Execution) error

	// ListExecutions returns executions newest first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*domain.Execution, error)

	// DeleteExecutionsBefore removes executions created before cutoff.
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
