package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"equipviz/internal/analysis"
)

var (
	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipviz_http_requests_total",
		Help: "Total number of dashboard HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "equipviz_http_request_duration_seconds",
		Help:    "Dashboard HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// Analysis service calls
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipviz_backend_requests_total",
		Help: "Calls to the analysis service by operation and outcome",
	}, []string{"operation", "outcome"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "equipviz_backend_request_duration_seconds",
		Help:    "Analysis service call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation"})

	BackendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipviz_backend_retries_total",
		Help: "Retried analysis service calls",
	}, []string{"operation"})

	// Sessions
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipviz_login_attempts_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "equipviz_active_sessions",
		Help: "Sessions currently held in memory",
	})

	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipviz_stale_responses_total",
		Help: "Backend responses discarded because the session moved on",
	}, []string{"operation"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equipviz_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter",
	})

	LoginLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equipviz_login_lockouts_total",
		Help: "Login keys locked after repeated invalid credentials",
	})

	ReportBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "equipviz_report_bytes_total",
		Help: "PDF report bytes delivered to users",
	})
)

// Outcome classifies a backend call result for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, analysis.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, analysis.ErrNotFound):
		return "not_found"
	case errors.Is(err, analysis.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// ObserveBackend records one completed analysis service call.
func ObserveBackend(operation string, err error, d time.Duration) {
	BackendRequests.WithLabelValues(operation, Outcome(err)).Inc()
	BackendRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}
