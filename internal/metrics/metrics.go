package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry хранит коллекторы приложения.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swap_arbiter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	orderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions by target status.",
		},
		[]string{"status"},
	)

	validationVotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "validation",
			Name:      "votes_total",
			Help:      "Validator votes by decision.",
		},
		[]string{"decision"},
	)

	validationResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "validation",
			Name:      "resolutions_total",
			Help:      "Resolved validation tasks by status and resolver.",
		},
		[]string{"status", "resolved_by"},
	)

	disputeResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "disputes",
			Name:      "resolutions_total",
			Help:      "Dispute outcomes by status and decision.",
		},
		[]string{"status", "decision"},
	)

	adminActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "admin",
			Name:      "actions_total",
			Help:      "Privileged admin actions.",
		},
		[]string{"action"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Background sweep runs by job and result.",
		},
		[]string{"job", "success"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swap_arbiter",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of background sweep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"job"},
	)

	rateOracleFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swap_arbiter",
			Subsystem: "limits",
			Name:      "conservative_fallbacks_total",
			Help:      "Order limit checks degraded to the conservative cap.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		orderTransitions,
		validationVotes,
		validationResolutions,
		disputeResolutions,
		adminActions,
		sweepRuns,
		sweepDuration,
		rateOracleFallbacks,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware собирает метрики HTTP-запросов по шаблону маршрута.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if path == "/metrics" {
			return
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordOrderTransition(status string) {
	orderTransitions.WithLabelValues(status).Inc()
}

func RecordVote(decision string) {
	validationVotes.WithLabelValues(decision).Inc()
}

func RecordValidationResolution(status, resolvedBy string) {
	validationResolutions.WithLabelValues(status, resolvedBy).Inc()
}

func RecordDisputeOutcome(status, decision string) {
	if decision == "" {
		decision = "none"
	}
	disputeResolutions.WithLabelValues(status, decision).Inc()
}

func RecordAdminAction(action string) {
	adminActions.WithLabelValues(action).Inc()
}

func RecordConservativeFallback() {
	rateOracleFallbacks.Inc()
}

// RecordSweep фиксирует запуск фоновой задачи.
func RecordSweep(job string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	sweepDuration.WithLabelValues(job).Observe(duration.Seconds())
}
