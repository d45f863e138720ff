// Package observability exposes Prometheus metrics for the auth flows and HTTP traffic.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the custom Prometheus metrics of the service.
type Metrics struct {
	FlowsTotal           *prometheus.CounterVec
	GuardRejectionsTotal *prometheus.CounterVec
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// NewRegistry creates a registry with the standard Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// NewMetrics creates and registers the service metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tours_auth_flows_total",
				Help: "Total number of auth flow completions by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		GuardRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tours_auth_guard_rejections_total",
				Help: "Total number of requests rejected by the access guard by reason",
			},
			[]string{"reason"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tours_http_requests_total",
				Help: "Total number of HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tours_http_request_duration_seconds",
				Help:    "HTTP request latency by method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(m.FlowsTotal, m.GuardRejectionsTotal, m.RequestsTotal, m.RequestDuration)
	return m
}

// FlowCompleted records the outcome of an auth flow.
func (m *Metrics) FlowCompleted(flow, outcome string) {
	m.FlowsTotal.WithLabelValues(flow, outcome).Inc()
}

// GuardRejected records a guard rejection.
func (m *Metrics) GuardRejected(reason string) {
	m.GuardRejectionsTotal.WithLabelValues(reason).Inc()
}

// RequestServed records a finished HTTP request. Methods outside the
// standard set are recorded as "OTHER".
func (m *Metrics) RequestServed(method string, status int, seconds float64) {
	method = MethodLabel(method)
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// MethodLabel bounds the method label to the standard HTTP methods.
func MethodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	default:
		return "OTHER"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
