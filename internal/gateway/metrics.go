// ABOUTME: Prometheus metrics for the HTTP API
// ABOUTME: Counts requests by route and status, times them, and tracks streamed blob bytes

package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "entity_gateway"

// Metrics holds the gateway's Prometheus collectors. Each instance has its own
// registry so several gateways can live in one process.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	blobBytes *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewMetrics creates and registers the gateway collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"route", "method"},
		),
		blobBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "blob_bytes_total",
				Help:      "Total volume of blob content streamed, by direction.",
			},
			[]string{"direction"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed entity operations by operation and mapped status.",
			},
			[]string{"operation", "status"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.blobBytes,
		m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records a completed request
func (m *Metrics) RecordRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordBlobBytes adds n bytes streamed in direction ("in" or "out")
func (m *Metrics) RecordBlobBytes(direction string, n int64) {
	if n > 0 {
		m.blobBytes.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordError records a failed operation and the status it was mapped to
func (m *Metrics) RecordError(op Operation, status int) {
	m.errors.WithLabelValues(string(op), strconv.Itoa(status)).Inc()
}
