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
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnDuration tracks chat turn duration from first emission to the terminal state.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode", "state"},
	)

	// TurnFragmentsTotal counts content fragments received from the completion endpoint.
	TurnFragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turn_fragments_total",
			Help: "Completion fragments received",
		},
		[]string{"mode"},
	)

	// MalformedEventsTotal counts skipped unparseable stream events.
	MalformedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_malformed_events_total",
			Help: "Unparseable completion stream events",
		},
	)

	// StoreOperationDuration tracks conversation store latency per operation.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_operation_duration_seconds",
			Help:    "Conversation store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// UpstreamDuration tracks upstream LLM call duration on the completion server.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_upstream_duration_seconds",
			Help:    "Upstream LLM response duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// UpstreamTokensTotal tracks tokens reported by the upstream provider.
	UpstreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_upstream_tokens_total",
			Help: "Total upstream LLM tokens",
		},
		[]string{"model", "direction"},
	)

	// RetrievalResults tracks how many chunks each retrieval returned.
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_retrieval_results",
			Help:    "Chunks returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// RetrievalFailuresTotal counts retrievals that degraded to an empty result.
	RetrievalFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_retrieval_failures_total",
			Help: "Retrievals that failed and returned no context",
		},
	)

	// IngestChunksTotal counts ingested chunks by outcome.
	IngestChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_ingest_chunks_total",
			Help: "Document chunks processed by ingestion",
		},
		[]string{"status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EventsPublishedTotal counts lifecycle events sent to NATS.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Conversation lifecycle events published",
		},
		[]string{"type", "status"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"source"},
	)

	// UsersRegisteredTotal tracks registration attempts by outcome.
	UsersRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "users_registered_total",
			Help: "User registration attempts",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of one chat turn.
func RecordTurn(mode, state string, duration float64, fragments int) {
	TurnDuration.WithLabelValues(mode, state).Observe(duration)
	TurnFragmentsTotal.WithLabelValues(mode).Add(float64(fragments))
}

// RecordStoreOp records one conversation store operation.
func RecordStoreOp(operation string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordUpstream records metrics for an upstream LLM response.
func RecordUpstream(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	UpstreamDuration.WithLabelValues(provider, model, status).Observe(duration)
	UpstreamTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	UpstreamTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
