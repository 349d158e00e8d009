package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/ashureev/shsh-exec/internal/domain"
	"github.com/ashureev/shsh-exec/internal/store"
	"github.com/go-chi/chi/v5"
)

// NotPostText is the body returned for any non-POST request to /api/service.
const NotPostText = "request func is not POST"

// MaxRequestBytes caps request bodies on /api/service.
const MaxRequestBytes = 1 << 20

// RegisterRoutes registers the execution service routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.HandleFunc("/service", h.Service)
		r.Get("/sessions", h.ListSessions)
		r.Get("/executions", h.ListExecutions)
	})
}

// Service executes one request. The reply is always HTTP 200 carrying an
// envelope; execution failures are reported inside it.
func (h *Handler) Service(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, NotPostText, http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		h.logger.Warn("Failed to read request body", "error", err)
		JSON(w, http.StatusOK, domain.NewEnvelope(
			domain.NewError(domain.KindMalformedRequest, "malformed request: %v", err).Error()))
		return
	}

	JSON(w, http.StatusOK, h.dispatcher.DispatchJSON(r.Context(), body))
}

// ListSessions returns a snapshot of the live interpreter sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.Snapshot()
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	JSON(w, http.StatusOK, sessions)
}

// ListExecutions returns recorded executions, newest first.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotFound, "history disabled")
		return
	}

	q := r.URL.Query()
	filter := store.ExecutionFilter{
		SessionID: q.Get("pythonShellId"),
		Kind:      domain.ExecutionKind(q.Get("kind")),
	}
	switch filter.Kind {
	case "", domain.KindCode, domain.KindCommand:
	default:
		Error(w, http.StatusBadRequest, "kind must be code or command")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > store.MaxListLimit {
			Error(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(store.MaxListLimit))
			return
		}
		filter.Limit = limit
	}

	execs, err := h.history.ListExecutions(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list executions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if execs == nil {
		execs = []*domain.Execution{}
	}
	JSON(w, http.StatusOK, execs)
}
