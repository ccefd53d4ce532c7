package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	sweptOrphans    prometheus.Counter
}

// NewMetrics registers the ticketbot collectors plus Go runtime metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Name:      "lifecycle_operations_total",
			Help:      "Ticket lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketbot",
			Name:      "lifecycle_operation_duration_seconds",
			Help:      "Ticket lifecycle operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Name:      "ops_http_requests_total",
			Help:      "Operator API requests.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketbot",
			Name:      "ops_http_request_duration_seconds",
			Help:      "Operator API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Name:      "errors_total",
			Help:      "Errors surfaced to callers by error code.",
		}, []string{"source", "code"}),
		sweptOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketbot",
			Name:      "orphaned_tickets_found_total",
			Help:      "Ticket rows found without a channel by the reconciliation sweep.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.operationTime,
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.sweptOrphans,
	)
	return m
}

// RecordOperation counts one lifecycle operation and its latency.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(source, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(source, code).Inc()
}

// RecordOrphans adds n to the orphaned-row counter.
func (m *Metrics) RecordOrphans(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptOrphans.Add(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
