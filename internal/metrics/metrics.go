// Package metrics provides Prometheus metrics and HTTP middleware for the
// execution service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets covers the quiet-period floor (seconds) up to the default max wait.
var ExecBuckets = []float64{0.05, 0.25, 0.5, 1, 2, 3, 5, 10, 30, 60}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_exec_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shsh_exec_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecBuckets,
		},
		[]string{"method", "route"},
	)

	// ExecutionsTotal counts settled executions by kind (code/command) and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_exec_executions_total",
			Help: "Settled executions",
		},
		[]string{"kind", "outcome"},
	)

	// ExecutionDuration records time from dispatch to settlement.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shsh_exec_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecBuckets,
		},
		[]string{"kind"},
	)

	// ClassifierDecisionsTotal counts noise classifier verdicts per stream.
	ClassifierDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shsh_exec_classifier_decisions_total",
			Help: "Noise classifier decisions",
		},
		[]string{"stream", "decision"},
	)

	// SessionsActive tracks live interpreter sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shsh_exec_interpreter_sessions_active",
			Help: "Live interpreter sessions",
		},
	)

	// SessionRestartsTotal counts closed sessions replaced by a fresh process.
	SessionRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shsh_exec_interpreter_restarts_total",
			Help: "Interpreter sessions recreated after exit",
		},
	)

	// WebSocketConnections tracks open /ws/service connections.
	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shsh_exec_websocket_connections_active",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		ClassifierDecisionsTotal,
		SessionsActive,
		SessionRestartsTotal,
		WebSocketConnections,
	)
}
