package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshop_backend_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshop_backend_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshop_backend_authz_decisions_total",
			Help: "Authorization gate decisions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	snapshotBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshop_backend_sync_snapshot_bytes_total",
			Help: "Compressed snapshot bytes transferred by direction.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, authzDecisionsTotal, snapshotBytesTotal)
}

// recordDecision counts one gate decision for the operation.
func recordDecision(operation string, success bool) {
	outcome := "allowed"
	if !success {
		outcome = "denied"
	}
	authzDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
