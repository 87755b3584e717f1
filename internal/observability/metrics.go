// Package observability bundles the operational surface of the service:
// Prometheus metrics and the admin HTTP server exposing liveness, readiness
// and metrics endpoints separately from the public API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tessera"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Recalculation metrics
	RecalcTotal    *prometheus.CounterVec
	RecalcDuration prometheus.Histogram
	SegmentMembers *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors on a fresh registry. Using
// a per-instance registry keeps tests independent of global state.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RecalcTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segment_recalculations_total",
				Help:      "Total number of segment recalculations by outcome.",
			},
			[]string{"outcome"},
		),
		RecalcDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "segment_recalculation_duration_seconds",
				Help:      "Time spent materializing a single segment.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		SegmentMembers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "segment_members",
				Help:      "Current materialized member count per segment.",
			},
			[]string{"segment_id"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecalcTotal,
		m.RecalcDuration,
		m.SegmentMembers,
	)

	return m
}

// Registry exposes the underlying registry for the metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRecalc records one finished recalculation.
func (m *Metrics) ObserveRecalc(seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.RecalcTotal.WithLabelValues(outcome).Inc()
	m.RecalcDuration.Observe(seconds)
}

// SetSegmentMembers updates the member gauge for a segment.
func (m *Metrics) SetSegmentMembers(segmentID string, count int64) {
	m.SegmentMembers.WithLabelValues(segmentID).Set(float64(count))
}

// DropSegment removes the member gauge series for a deleted segment.
func (m *Metrics) DropSegment(segmentID string) {
	m.SegmentMembers.DeleteLabelValues(segmentID)
}
