package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the wallet core's Prometheus collectors. Components receive it
// explicitly; a nil *Metrics is valid and records nothing.
type Metrics struct {
	// Explorer request metrics
	explorerRequestsTotal    *prometheus.CounterVec
	explorerRequestDuration  *prometheus.HistogramVec
	explorerFailuresTotal    *prometheus.CounterVec
	explorerFallbacksTotal   *prometheus.CounterVec
	explorerThrottleWait     *prometheus.HistogramVec
	transactionsNormalized   *prometheus.CounterVec
	explorerSocketMessages   *prometheus.CounterVec
	providerFailoversTotal   *prometheus.CounterVec
	transactionsWrittenTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics registers every collector on registry, or on
// prometheus.DefaultRegisterer when registry is nil. Metric names carry the
// "walletcore_" prefix.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(prometheus.WrapRegistererWithPrefix("walletcore_", registry))

	return &Metrics{
		explorerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_requests_total",
				Help: "Total number of explorer requests by explorer, operation and status",
			},
			[]string{"explorer", "operation", "status"},
		),
		explorerRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_request_duration_seconds",
				Help:    "Duration of explorer requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"explorer", "operation"},
		),
		explorerFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_failures_total",
				Help: "Total number of classified explorer failures by kind",
			},
			[]string{"explorer", "operation", "kind"},
		),
		explorerFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_fallbacks_total",
				Help: "Total number of recoverable failures answered with a fallback result",
			},
			[]string{"explorer", "operation"},
		),
		explorerThrottleWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_throttle_wait_seconds",
				Help:    "Time spent waiting on per-operation request throttles",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"explorer", "operation"},
		),
		transactionsNormalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_normalized_total",
				Help: "Total number of raw records normalized into transactions",
			},
			[]string{"explorer", "status"},
		),
		explorerSocketMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_socket_messages_total",
				Help: "Total number of push messages received on explorer sockets",
			},
			[]string{"explorer", "status"},
		),
		providerFailoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_failovers_total",
				Help: "Total number of times a caller moved to the next provider for an operation",
			},
			[]string{"usage", "from"},
		),
		transactionsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_written_total",
				Help: "Total number of transactions written to the history store",
			},
			[]string{"ticker"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Explorer metric helpers

// RecordExplorerRequest records one explorer HTTP request.
func (m *Metrics) RecordExplorerRequest(explorer, operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.explorerRequestsTotal.WithLabelValues(explorer, operation, status).Inc()
	m.explorerRequestDuration.WithLabelValues(explorer, operation).Observe(duration)
}

// RecordExplorerFailure records a classified failure.
func (m *Metrics) RecordExplorerFailure(explorer, operation, kind string) {
	if m == nil {
		return
	}
	m.explorerFailuresTotal.WithLabelValues(explorer, operation, kind).Inc()
}

// RecordExplorerFallback records a recoverable failure answered with a fallback.
func (m *Metrics) RecordExplorerFallback(explorer, operation string) {
	if m == nil {
		return
	}
	m.explorerFallbacksTotal.WithLabelValues(explorer, operation).Inc()
}

// RecordThrottleWait records time spent waiting on a request throttle.
func (m *Metrics) RecordThrottleWait(explorer, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.explorerThrottleWait.WithLabelValues(explorer, operation).Observe(seconds)
}

// RecordTransactionsNormalized records normalized records by outcome.
func (m *Metrics) RecordTransactionsNormalized(explorer, status string, count int) {
	if m == nil {
		return
	}
	m.transactionsNormalized.WithLabelValues(explorer, status).Add(float64(count))
}

// RecordSocketMessage records a push message by outcome.
func (m *Metrics) RecordSocketMessage(explorer, status string) {
	if m == nil {
		return
	}
	m.explorerSocketMessages.WithLabelValues(explorer, status).Inc()
}

// RecordProviderFailover records a move past a failing provider.
func (m *Metrics) RecordProviderFailover(usage, from string) {
	if m == nil {
		return
	}
	m.providerFailoversTotal.WithLabelValues(usage, from).Inc()
}

// RecordTransactionsWritten records transactions written to the history store.
func (m *Metrics) RecordTransactionsWritten(ticker string, count int) {
	if m == nil {
		return
	}
	m.transactionsWrittenTotal.WithLabelValues(ticker).Add(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// StatusClass groups HTTP status codes by class for metric labels.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
