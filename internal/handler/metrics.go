package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	integrityRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	integrityRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrity_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	integrityLedgerAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integrity_ledger_appends_total",
		Help: "Total ledger entries appended.",
	})

	integrityAppendConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integrity_ledger_append_conflicts_total",
		Help: "Total appends that lost a same-subject race and were rejected for retry.",
	})

	integrityChainVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_chain_verifications_total",
		Help: "Total chain verifications by result.",
	}, []string{"result"})

	integrityManifestBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_manifest_builds_total",
		Help: "Total audit manifest builds by result.",
	}, []string{"result"})

	integrityManifestVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_manifest_verifications_total",
		Help: "Total manifest verifications by result.",
	}, []string{"result"})

	integrityKeyRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integrity_key_rotations_total",
		Help: "Total signing key rotations.",
	})
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

		integrityRequestsTotal.WithLabelValues(method, path, status).Inc()
		integrityRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func result(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}

// RecordLedgerAppend records a successful ledger append.
func RecordLedgerAppend() {
	integrityLedgerAppendsTotal.Inc()
}

// RecordAppendConflict records an append rejected by a same-subject race.
func RecordAppendConflict() {
	integrityAppendConflictsTotal.Inc()
}

// RecordChainVerification records a chain verification outcome.
func RecordChainVerification(valid bool) {
	integrityChainVerificationsTotal.WithLabelValues(result(valid)).Inc()
}

// RecordManifestBuild records a manifest build outcome.
func RecordManifestBuild(ok bool) {
	if ok {
		integrityManifestBuildsTotal.WithLabelValues("sealed").Inc()
	} else {
		integrityManifestBuildsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordManifestVerification records a manifest verification outcome.
func RecordManifestVerification(valid bool) {
	integrityManifestVerificationsTotal.WithLabelValues(result(valid)).Inc()
}

// RecordKeyRotation records a signing key rotation.
func RecordKeyRotation() {
	integrityKeyRotationsTotal.Inc()
}
