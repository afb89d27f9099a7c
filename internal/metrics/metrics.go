// Package metrics owns the Prometheus collectors for the service. HTTP
// middleware and the escort services both record here, and /metrics
// exposes everything through Handler.
//
// Collectors are registered on the default registry in init. Label values
// are always drawn from closed sets (route patterns, states, channels) to
// keep cardinality bounded.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts all HTTP requests by method, route and status code.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// httpRequestDuration tracks HTTP request latency distribution.
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// httpResponseSize tracks HTTP response payload sizes.
	httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)

	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escort_session_transitions_total",
			Help: "Session state transitions applied",
		},
		[]string{"from", "to"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escort_escalations_total",
			Help: "Sessions escalated, by reason",
		},
		[]string{"reason"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escort_notifications_total",
			Help: "Guardian deliveries attempted, by channel and result",
		},
		[]string{"channel", "result"},
	)

	disarmAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escort_disarm_attempts_total",
			Help: "Disarm code submissions, by externally visible result",
		},
		[]string{"result"},
	)

	schedulerSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escort_scheduler_sweep_duration_seconds",
			Help:    "Time spent per scheduler sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	schedulerDeadlinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escort_scheduler_deadlines_total",
			Help: "Claimed deadlines, by outcome",
		},
		[]string{"outcome"},
	)

	pendingDeadlines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "escort_pending_deadlines",
			Help: "Deadlines waiting in the queue",
		},
	)

	monitoredSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "escort_monitored_sessions",
			Help: "Sessions in active or buffer_grace at last reconcile",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		httpResponseSize,
		sessionTransitionsTotal,
		escalationsTotal,
		notificationsTotal,
		disarmAttemptsTotal,
		schedulerSweepDuration,
		schedulerDeadlinesTotal,
		pendingDeadlines,
		monitoredSessions,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one finished request. route must be the
// router pattern (e.g. "/api/v1/sessions/{id}"), never the raw path.
func ObserveHTTPRequest(method, route, status string, duration time.Duration, bytesWritten int) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, route).Observe(float64(bytesWritten))
}

// RecordTransition counts an applied state transition.
func RecordTransition(from, to string) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordEscalation counts an escalation by its ended_via reason.
func RecordEscalation(reason string) {
	escalationsTotal.WithLabelValues(reason).Inc()
}

// RecordNotification counts one guardian delivery. result is "sent",
// "failed", "no_dispatcher" or "duplicate".
func RecordNotification(channel, result string) {
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordDisarmAttempt counts a disarm submission by what the caller saw
// ("accepted" or "retry"). Disarm and decoy both count as accepted.
func RecordDisarmAttempt(result string) {
	disarmAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveSweep records one scheduler sweep.
func ObserveSweep(duration time.Duration) {
	schedulerSweepDuration.Observe(duration.Seconds())
}

// RecordDeadline counts a claimed deadline by outcome ("applied",
// "requeued", "integrity_error").
func RecordDeadline(outcome string) {
	schedulerDeadlinesTotal.WithLabelValues(outcome).Inc()
}

// SetPendingDeadlines sets the deadline queue length gauge.
func SetPendingDeadlines(n int64) {
	pendingDeadlines.Set(float64(n))
}

// SetMonitoredSessions sets the monitored session gauge.
func SetMonitoredSessions(n int64) {
	monitoredSessions.Set(float64(n))
}
