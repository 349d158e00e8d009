package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/shsh-exec/internal/metrics"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves /ws/service. Every inbound message is a request
// body; replies are written back in order.
type WebSocketHandler struct {
	dispatcher     Dispatcher
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a WebSocket handler. allowedOrigins uses the
// CORS_ORIGINS form: full origins or "*".
func NewWebSocketHandler(dispatcher Dispatcher, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		dispatcher:     dispatcher,
		originPatterns: OriginPatterns(allowedOrigins),
		logger:         logger,
	}
}

// OriginPatterns converts allowed origins to host patterns for websocket.Accept.
func OriginPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(o, "/"))
	}
	return patterns
}

type wsControl struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(MaxRequestBytes)

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	h.logger.Info("WebSocket connected", "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var reply any
		var ctrl wsControl
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "ping" {
			reply = map[string]string{"type": "pong"}
		} else {
			reply = h.dispatcher.DispatchJSON(ctx, message)
		}

		if err := h.writeJSON(ctx, ws, reply); err != nil {
			h.logger.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, v)
}
