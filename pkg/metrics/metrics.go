// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "celia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celia_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BotAPIDuration tracks bot backend call latency.
	BotAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "celia_bot_api_duration_seconds",
			Help:    "Bot backend call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"op", "outcome"},
	)

	// PollTicksTotal counts polling loop iterations.
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celia_poll_ticks_total",
			Help: "Polling loop ticks by outcome",
		},
		[]string{"outcome"},
	)

	// ReconcileUpdatesTotal counts merges that changed the visible message list.
	ReconcileUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celia_reconcile_updates_total",
			Help: "Reconciliation passes that replaced the message list",
		},
	)

	// MessagesSentTotal counts optimistic sends by outcome.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celia_messages_sent_total",
			Help: "Messages sent to the bot backend",
		},
		[]string{"outcome"},
	)

	// SessionsActive tracks live conversation sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "celia_sessions_active",
			Help: "Number of live conversation sessions",
		},
	)

	// HistoryOpsTotal counts history store operations.
	HistoryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celia_history_operations_total",
			Help: "History store operations",
		},
		[]string{"op", "outcome"},
	)

	// HistorySweptTotal counts records purged by the retention sweep.
	HistorySweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celia_history_swept_total",
			Help: "Saved conversations deleted by the retention sweep",
		},
	)

	// TitleGenerationsTotal counts LLM title generations.
	TitleGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celia_title_generations_total",
			Help: "Saved-conversation title generations",
		},
		[]string{"provider", "outcome"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "celia_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBotCall records one bot backend call.
func RecordBotCall(op string, err error, duration float64) {
	BotAPIDuration.WithLabelValues(op, outcome(err)).Observe(duration)
}

// RecordPollTick records the outcome of one polling tick.
func RecordPollTick(err error) {
	PollTicksTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordSend records the outcome of a message send.
func RecordSend(err error) {
	MessagesSentTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordHistoryOp records a history store operation.
func RecordHistoryOp(op string, err error) {
	HistoryOpsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// RecordTitleGeneration records one LLM title generation.
func RecordTitleGeneration(provider string, err error) {
	TitleGenerationsTotal.WithLabelValues(provider, outcome(err)).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
