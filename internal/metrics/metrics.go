package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursepulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursepulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	schedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursepulse_scheduler_runs_total",
			Help: "Scheduler runs by terminal outcome",
		},
		[]string{"outcome"},
	)

	emailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursepulse_emails_dispatched_total",
			Help: "Dispatch attempts by notification type and result",
		},
		[]string{"notification_type", "result"},
	)

	schedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursepulse_scheduler_run_duration_seconds",
			Help:    "Wall time of one scheduler run",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursepulse_webhook_events_total",
			Help: "Inbound delivery webhook events by type and handling result",
		},
		[]string{"event_type", "result"},
	)

	dailyQuotaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursepulse_daily_quota_used",
			Help: "Messages counted against today's quota at the end of the last run",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursepulse_rate_limit_rejections_total",
			Help: "Admin API requests rejected by the rate limiter",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSchedulerRun records one completed (or skipped) scheduler run.
func RecordSchedulerRun(outcome string, duration time.Duration) {
	schedulerRuns.WithLabelValues(outcome).Inc()
	schedulerRunDuration.Observe(duration.Seconds())
}

// RecordDispatch records one dispatch attempt.
func RecordDispatch(notificationType, result string) {
	emailsDispatched.WithLabelValues(notificationType, result).Inc()
}

// RecordWebhookEvent records one inbound delivery event.
func RecordWebhookEvent(eventType, result string) {
	webhookEvents.WithLabelValues(eventType, result).Inc()
}

// SetDailyQuotaUsed publishes the sent_today counter after a run.
func SetDailyQuotaUsed(count int) {
	dailyQuotaUsed.Set(float64(count))
}

// RecordRateLimitRejection records an admin API rate limit rejection.
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
