package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Verification metrics
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_verifications_total",
			Help: "Verification attempts by outcome",
		},
		[]string{"outcome"}, // verified, proxy_suspect, out_of_range, device_error
	)

	DeviceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_device_errors_total",
			Help: "Failed location acquisitions by reason",
		},
		[]string{"reason"},
	)

	VerificationDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attendance_verification_distance_meters",
			Help:    "Distance between the student and the class center",
			Buckets: []float64{5, 10, 25, 50, 75, 100, 250, 1000, 5000},
		},
	)

	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_rejected_total",
			Help: "Verification requests rejected before classification",
		},
		[]string{"reason"}, // not_active, invalid_input, not_found
	)

	// Session metrics
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_session_transitions_total",
			Help: "Session status transitions",
		},
		[]string{"from", "to"},
	)

	SessionsAutoClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_sessions_auto_closed_total",
			Help: "Sessions closed by the expiry sweeper",
		},
	)

	// Worker metrics
	ProxyReviewsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attendance_proxy_reviews_total",
			Help: "Proxy-suspect records routed to review",
		},
	)
)

// TrackVerification counts one classified attempt. distance is nil for device errors.
func TrackVerification(outcome, reason string, distance *float64) {
	VerificationsTotal.WithLabelValues(outcome).Inc()
	if reason != "" {
		DeviceErrorsTotal.WithLabelValues(reason).Inc()
	}
	if distance != nil {
		VerificationDistance.Observe(*distance)
	}
}

// TrackRejection counts a request refused before classification.
func TrackRejection(reason string) {
	RejectedTotal.WithLabelValues(reason).Inc()
}

// TrackTransition counts a session status change.
func TrackTransition(from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
}
