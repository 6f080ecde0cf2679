package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lazylord",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lazylord",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	// Registrations counts successful user registrations.
	Registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "ledger",
			Name:      "registrations_total",
			Help:      "Total number of successful registrations.",
		},
	)

	// TokensSpent counts tokens removed from balances by explicit spends and
	// funnel costs.
	TokensSpent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "ledger",
			Name:      "tokens_spent_total",
			Help:      "Total tokens debited from user balances.",
		},
		[]string{"reason"},
	)

	// TokensCredited counts tokens added to balances.
	TokensCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "ledger",
			Name:      "tokens_credited_total",
			Help:      "Total tokens credited to user balances.",
		},
		[]string{"reason"},
	)

	// FunnelAdvances counts successful funnel transitions by step.
	FunnelAdvances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "funnel",
			Name:      "advances_total",
			Help:      "Total successful funnel step completions.",
		},
		[]string{"step"},
	)

	// WebhookEvents counts processed webhook deliveries by product and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total webhook events by product and outcome.",
		},
		[]string{"product", "outcome"},
	)

	// CommissionsPaid counts referral commissions credited, by upline level.
	CommissionsPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazylord",
			Subsystem: "referrals",
			Name:      "commissions_total",
			Help:      "Total referral commissions credited, by level.",
		},
		[]string{"level"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		Registrations,
		TokensSpent,
		TokensCredited,
		FunnelAdvances,
		WebhookEvents,
		CommissionsPaid,
	)
}

// Handler exposes the registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Instrument wraps an HTTP handler with request counting and latency
// observation. The path label uses the routing pattern, not the raw URL, to
// keep cardinality bounded.
func Instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
