package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "translation_engine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	TranslationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "translations_total",
		Help:      "Completed translations by provider and outcome.",
	}, []string{"provider", "status"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "translation_engine",
		Name:      "provider_latency_seconds",
		Help:      "Provider call latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "cache_requests_total",
		Help:      "Cache lookups by result.",
	}, []string{"result"})

	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "credits_debited_total",
		Help:      "Total credits debited across workspaces.",
	})

	DegradedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "degraded_responses_total",
		Help:      "Responses served in degraded mode.",
	})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "translation_engine",
		Name:      "circuit_breaker_state",
		Help:      "Circuit state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})

	UsageQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "translation_engine",
		Name:      "usage_queue_depth",
		Help:      "Usage records waiting to be flushed.",
	})

	UsageRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "translation_engine",
		Name:      "usage_records_dropped_total",
		Help:      "Usage records lost to a full queue or an over-capacity retry backlog.",
	})
)

// Middleware records per-request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route,
			strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
