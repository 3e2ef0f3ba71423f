package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forensicedr/forensicedr/internal/custody"
)

var (
	edrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edr_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	edrRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edr_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	edrEvidenceUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edr_evidence_uploads_total",
		Help: "Total evidence uploads by outcome.",
	}, []string{"outcome"})

	edrCustodyEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edr_custody_entries_total",
		Help: "Total custody ledger entries appended, by action.",
	}, []string{"action"})

	edrChainVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edr_chain_verifications_total",
		Help: "Total custody chain verifications by result.",
	}, []string{"result"})

	edrHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edr_health_checks_total",
		Help: "Total database health probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		edrRequestsTotal.WithLabelValues(method, path, status).Inc()
		edrRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEvidenceUpload records an evidence upload attempt.
func RecordEvidenceUpload(success bool) {
	if success {
		edrEvidenceUploadsTotal.WithLabelValues("stored").Inc()
	} else {
		edrEvidenceUploadsTotal.WithLabelValues("rejected").Inc()
	}
}

// RecordCustodyAppend records a custody ledger entry append. Matches the
// ledger's MetricsRecordFunc signature.
func RecordCustodyAppend(action custody.Action) {
	edrCustodyEntriesTotal.WithLabelValues(string(action)).Inc()
}

// RecordChainVerification records a chain verification result.
func RecordChainVerification(valid bool) {
	if valid {
		edrChainVerificationsTotal.WithLabelValues("intact").Inc()
	} else {
		edrChainVerificationsTotal.WithLabelValues("broken").Inc()
	}
}

// RecordHealthCheck records a database health probe result.
func RecordHealthCheck(success bool) {
	if success {
		edrHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		edrHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}
