package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "board_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	ActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "board_http_active_requests",
		Help: "Number of in-flight HTTP requests",
	})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_task_mutations_total",
		Help: "Accepted task mutations by action",
	}, []string{"action"})

	Conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_version_conflicts_total",
		Help: "Task updates rejected because the client version was stale",
	})

	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_broadcast_events_total",
		Help: "Events fanned out to observers by action and source",
	}, []string{"action", "source"})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_broadcast_dropped_total",
		Help: "Events not delivered because an observer queue was full",
	})

	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "board_observers",
		Help: "Currently connected observers",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_cache_lookups_total",
		Help: "Board cache lookups by level and result",
	}, []string{"level", "result"})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_cache_errors_total",
		Help: "Failed or short-circuited calls to the shared cache",
	})
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestCount.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
