// Package telemetry provides application-level observability for the split backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<SPLIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Payment provider call latency, by operation and outcome
//   - Audit append outcomes and writer-lock wait time
//   - Audit snapshot archive uploads, by backend
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (c.FullPath()), never the raw URL.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Client error share per route:      sum by (path) (rate(http_requests_total{status=~"4.."}[5m])) / sum by (path) (rate(http_requests_total[5m]))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Payment provider metrics.
//
// RemoteCallDuration is a HistogramVec with labels {operation, outcome} where
// operation is the provider verb (account.create, transfer.create, ...) and
// outcome is one of ok, rejected, error.
//
// Example PromQL queries:
//   - p95 provider latency:   histogram_quantile(0.95, sum by (operation, le) (rate(payment_provider_call_duration_seconds_bucket[5m])))
//   - Rejections per verb:    sum by (operation) (rate(payment_provider_call_duration_seconds_count{outcome="rejected"}[15m]))
var RemoteCallDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payment_provider_call_duration_seconds",
		Help:    "Latency of payment provider API calls, by operation and outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"operation", "outcome"},
)

// Audit trail metrics.
//
// AuditAppendsTotal counts append attempts by {entry_type, outcome}; outcome is
// ok, timeout (writer lock not acquired within audit.lock_timeout) or error.
// An alert on increase(audit_appends_total{outcome!="ok"}[10m]) > 0 catches a
// stuck lock holder or a full disk.
//
// AuditLockWaitSeconds measures time spent waiting for the in-process writer
// slot plus the advisory file lock.
var (
	AuditAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Total number of audit append attempts, by entry type and outcome.",
		},
		[]string{"entry_type", "outcome"},
	)

	AuditLockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_lock_wait_seconds",
			Help:    "Time spent acquiring the audit writer lock.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	AuditShipFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_ship_failures_total",
			Help: "Total number of audit entries that failed to reach an external shipper.",
		},
	)
)

// ArchiveUploadsTotal counts audit snapshot uploads by {backend, outcome}.
var ArchiveUploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_archive_uploads_total",
		Help: "Total number of audit snapshot uploads, by storage backend and outcome.",
	},
	[]string{"backend", "outcome"},
)

// ObserveRemoteCall records one provider call. Pass the start time captured
// before the call.
func ObserveRemoteCall(operation, outcome string, start time.Time) {
	RemoteCallDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
