// Package api provides the HTTP and WebSocket handlers for the execution service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/store"
)

// Dispatcher turns a raw request body into a reply envelope.
type Dispatcher interface {
	DispatchJSON(ctx context.Context, body []byte) domain.Envelope
}

// SessionLister reports live interpreter sessions.
type SessionLister interface {
	Snapshot() []domain.SessionInfo
}

// HistoryReader lists recorded executions.
type HistoryReader interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*domain.Execution, error)
}

// Handler provides common handler utilities.
type Handler struct {
	dispatcher Dispatcher
	sessions   SessionLister
	history    HistoryReader
	logger     *slog.Logger
}

// NewHandler creates a new Handler. history may be nil when the execution
// history is disabled.
func NewHandler(dispatcher Dispatcher, sessions SessionLister, history HistoryReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		sessions:   sessions,
		history:    history,
		logger:     logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
