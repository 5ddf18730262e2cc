package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dvRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainverify_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	dvRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "domainverify_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dvChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainverify_checks_total",
		Help: "Total applied verification checks by DNS outcome and resulting status.",
	}, []string{"outcome", "status"})

	dvSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainverify_sweeps_total",
		Help: "Total scheduled sweeps by result.",
	}, []string{"result"})

	dvSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "domainverify_sweep_duration_seconds",
		Help:    "Duration of scheduled sweeps in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	dvPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "domainverify_pending_verifications",
		Help: "PENDING verifications seen by the last sweep.",
	})

	dvHealthProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainverify_health_probes_total",
		Help: "Total dependency health probes by dependency and success status.",
	}, []string{"dependency", "success"})

	dvWebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domainverify_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by success status.",
	}, []string{"success"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		dvRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		dvRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCheck records an applied verification check. It matches
// service.CheckRecorder.
func RecordCheck(outcome string, status model.VerificationStatus) {
	dvChecksTotal.WithLabelValues(outcome, string(status)).Inc()
}

// RecordSweep records a finished scheduler sweep over pending verifications.
func RecordSweep(pending int, failed bool, d time.Duration) {
	result := "success"
	if failed {
		result = "failure"
	}
	dvSweepsTotal.WithLabelValues(result).Inc()
	dvSweepDuration.Observe(d.Seconds())
	dvPendingGauge.Set(float64(pending))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	dvWebhookDeliveries.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordHealthProbe records a dependency health probe.
func RecordHealthProbe(dependency string, success bool) {
	dvHealthProbes.WithLabelValues(dependency, strconv.FormatBool(success)).Inc()
}
