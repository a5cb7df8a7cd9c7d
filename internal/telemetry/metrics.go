// Package telemetry provides logging and metrics for the listing mock server.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the server. Each instance owns its
// own registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	artifactsTotal  *prometheus.CounterVec
	artifactBytes   *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingmock_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listingmock_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingmock_artifacts_stored_total",
			Help: "Uploaded files persisted, by backend.",
		}, []string{"backend"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingmock_artifact_bytes_total",
			Help: "Bytes of uploaded files persisted, by backend.",
		}, []string{"backend"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listingmock_rejected_total",
			Help: "Requests rejected before reaching an endpoint, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.artifactsTotal,
		m.artifactBytes,
		m.rejectedTotal,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordArtifact records one persisted upload.
func (m *Metrics) RecordArtifact(backend string, size int64) {
	m.artifactsTotal.WithLabelValues(backend).Inc()
	m.artifactBytes.WithLabelValues(backend).Add(float64(size))
}

// RecordRejection records a request turned away by a gate (auth, rate limit, ordering).
func (m *Metrics) RecordRejection(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
