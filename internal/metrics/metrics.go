// Package metrics holds the Prometheus collectors for session and OTP activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wallet_session"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Total number of session events broadcast by the auth guard.",
		},
		[]string{"event"},
	)

	refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Total number of token refresh calls by outcome.",
		},
		[]string{"outcome"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of token refresh calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)

	otpDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "dispatch_total",
			Help:      "Total number of OTP verify/resend dispatches by type and outcome.",
		},
		[]string{"op", "type", "outcome"},
	)
)

func init() {
	Registry.MustRegister(authEvents, refreshes, refreshDuration, otpDispatches)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordAuthEvent counts a broadcast session event.
func RecordAuthEvent(event string) {
	authEvents.WithLabelValues(event).Inc()
}

// ObserveRefresh records the outcome and duration of one refresh call.
func ObserveRefresh(success bool, d time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	refreshes.WithLabelValues(outcome).Inc()
	refreshDuration.Observe(d.Seconds())
}

// RecordOTPDispatch counts an OTP registry dispatch. Outcome is one of
// "success", "rejected", "error" or "unrouted".
func RecordOTPDispatch(op, otpType, outcome string) {
	otpDispatches.WithLabelValues(op, otpType, outcome).Inc()
}
