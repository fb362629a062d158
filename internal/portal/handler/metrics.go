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
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examcert_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "examcert_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	anchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examcert_ledger_anchors_total",
		Help: "Anchor submissions by result (created, existing, rejected).",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examcert_verifications_total",
		Help: "Certificate verifications by outcome.",
	}, []string{"outcome"})

	reconcileJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examcert_reconcile_jobs_total",
		Help: "Reconcile job runs by outcome.",
	}, []string{"outcome"})

	certificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "examcert_certificates_published_total",
		Help: "Certificate records published by the scoring backend.",
	})

	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "examcert_health_probes_total",
		Help: "Dependency health probes by dependency and result.",
	}, []string{"dependency", "result"})
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
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAnchor counts an anchor submission.
func RecordAnchor(result string) {
	anchorsTotal.WithLabelValues(result).Inc()
}

// RecordVerification counts a verification outcome. It fits
// verify.Resolver.SetRecorder through a closure over the outcome name.
func RecordVerification(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcile counts a reconcile worker outcome. It has the signature
// reconcile.Worker.SetRecorder expects.
func RecordReconcile(outcome string) {
	reconcileJobsTotal.WithLabelValues(outcome).Inc()
}

// RecordPublished counts a published certificate record.
func RecordPublished() {
	certificatesIssuedTotal.Inc()
}

// RecordHealthProbe counts a dependency probe. It has the signature
// health.Checker.SetMetricsRecord expects.
func RecordHealthProbe(dependency string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	healthProbesTotal.WithLabelValues(dependency, result).Inc()
}
