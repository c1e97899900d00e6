// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the verlauf session engine.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for model call latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// StoreBuckets defines histogram buckets for session store operations,
// ranging from 0.5ms to 2.5s.
var StoreBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verlauf_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verlauf_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// TurnsTotal counts finished turns by outcome.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_turns_total",
			Help: "Turns by outcome",
		},
		[]string{"status"},
	)

	// TurnDuration records wall-clock turn duration in seconds.
	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verlauf_turn_duration_seconds",
			Help:    "Turn duration",
			Buckets: LLMBuckets,
		},
	)

	// ToolRoundTrips records how many tool round-trips each turn resolved.
	ToolRoundTrips = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verlauf_tool_round_trips",
			Help:    "Tool round-trips per turn",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)

	// ModelCallsTotal counts calls to the model provider.
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_model_calls_total",
			Help: "Model calls",
		},
		[]string{"provider", "model", "status"},
	)

	// ModelLatency records model call latency in seconds, measured until
	// the stream is fully drained.
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verlauf_model_latency_seconds",
			Help:    "Model call latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ModelTokensTotal counts tokens processed by direction (input/output).
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_model_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// EventsDroppedTotal counts raw provider events the normalizer ignored.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_stream_events_dropped_total",
			Help: "Unrecognized or malformed provider events",
		},
		[]string{"type"},
	)

	// StoreOperationsTotal counts session store operations by backend,
	// operation, and outcome.
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verlauf_store_operations_total",
			Help: "Session store operations",
		},
		[]string{"backend", "op", "status"},
	)

	// StoreLatency records session store operation latency in seconds.
	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verlauf_store_latency_seconds",
			Help:    "Session store latency",
			Buckets: StoreBuckets,
		},
		[]string{"backend", "op"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		TurnsTotal,
		TurnDuration,
		ToolRoundTrips,
		ModelCallsTotal,
		ModelLatency,
		ModelTokensTotal,
		ToolExecutionsTotal,
		EventsDroppedTotal,
		StoreOperationsTotal,
		StoreLatency,
	)
}
