// Package metrics exposes Prometheus instrumentation for the connector
// framework. Collectors are registered once at init via promauto and
// served on /metrics by the ops server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts executed source requests by final outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelgate_requests_total",
			Help: "Total number of executed source requests",
		},
		[]string{"source", "operation", "outcome"},
	)

	// RequestErrorsTotal counts final request failures by stable error code.
	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelgate_request_errors_total",
			Help: "Total number of failed source requests by error code",
		},
		[]string{"source", "code"},
	)

	// RequestLatency tracks end-to-end request latency including admission
	// waits and retries.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelgate_request_latency_seconds",
			Help:    "Source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "operation"},
	)

	// RetryAttempts tracks how many operation invocations each request took.
	RetryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelgate_retry_attempts",
			Help:    "Operation invocations per executed request",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		},
		[]string{"source"},
	)

	// AdmissionWait tracks time spent waiting for rate-limit admission.
	AdmissionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intelgate_admission_wait_seconds",
			Help:    "Time spent waiting for a rate-limit token",
			Buckets: []float64{.005, .05, .25, 1, 5, 15, 60, 300},
		},
		[]string{"source"},
	)

	// TokensAvailable reflects the current token-bucket level per source.
	TokensAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intelgate_tokens_available",
			Help: "Available rate-limit tokens per source",
		},
		[]string{"source"},
	)

	// SourceHealthy is 1 when the source's health verdict is positive.
	SourceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intelgate_source_healthy",
			Help: "Health verdict per source (1 healthy, 0 degraded)",
		},
		[]string{"source"},
	)

	// HealthChecksTotal counts explicit health probes by outcome.
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelgate_health_checks_total",
			Help: "Total number of health probes",
		},
		[]string{"source", "outcome"},
	)
)
