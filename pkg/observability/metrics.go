// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the RPC engine. Both are optional: components accept a
// nil *Metrics and a nil tracer and skip instrumentation.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the engine's Prometheus collectors on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	invocationTotal  *prometheus.CounterVec
	inFlightRequests prometheus.Gauge
	decodeFailures   *prometheus.CounterVec
}

// NewMetrics creates a metrics set under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mcp"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of dispatched RPC requests by method and status.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"method", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total dispatched RPC requests by method and status.",
		}, []string{"method", "status"}),
		invocationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Capability invocations by kind, name and status.",
		}, []string{"kind", "name", "status"}),
		inFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_requests",
			Help:      "Requests currently being dispatched.",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Messages rejected by the codec, by classification.",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.requestDuration,
		m.requestTotal,
		m.invocationTotal,
		m.inFlightRequests,
		m.decodeFailures,
	)
	return m
}

// Handler returns the Prometheus exposition handler for this metrics
// set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatched request.
func (m *Metrics) ObserveRequest(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordInvocation records one tool/resource/prompt invocation.
func (m *Metrics) RecordInvocation(kind, name, status string) {
	if m == nil {
		return
	}
	m.invocationTotal.WithLabelValues(kind, name, status).Inc()
}

// RequestStarted increments the in-flight gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.inFlightRequests.Inc()
}

// RequestFinished decrements the in-flight gauge.
func (m *Metrics) RequestFinished() {
	if m == nil {
		return
	}
	m.inFlightRequests.Dec()
}

// RecordDecodeFailure records one codec rejection. class is "parse" or
// "invalid_request".
func (m *Metrics) RecordDecodeFailure(class string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(class).Inc()
}
