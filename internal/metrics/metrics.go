// Package metrics exposes Prometheus collectors for store operations and the
// HTTP boundary. All methods are safe on a nil *Metrics, so callers that do
// not care about metrics can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "auditkv"

// Outcome labels for operation metrics.
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	valueBytes  prometheus.Histogram
	httpTotal   *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total store operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations including the audit write",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		valueBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "value_bytes",
			Help:      "Size of values written",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),

		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method and status code",
		}, []string{"method", "code"}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total HTTP requests rejected by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.valueBytes,
		m.httpTotal,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to expose, e.g. through promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records one completed store operation.
func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveValueSize records the size of a written value.
func (m *Metrics) ObserveValueSize(n int) {
	if m == nil {
		return
	}
	m.valueBytes.Observe(float64(n))
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, code string) {
	if m == nil {
		return
	}
	m.httpTotal.WithLabelValues(method, code).Inc()
}

// ObserveRateLimited records one request rejected by the limiter.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
