package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain counters exposed on /metrics.
var (
	OTPIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_otp_issued_total",
			Help: "One-time codes issued, by purpose.",
		},
		[]string{"purpose"},
	)

	OTPVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_otp_verifications_total",
			Help: "One-time code verification attempts, by purpose and outcome.",
		},
		[]string{"purpose", "outcome"},
	)

	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_authz_decisions_total",
			Help: "Authorization decisions, by deciding rule and effect.",
		},
		[]string{"rule", "effect"},
	)

	ApprovalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_approval_transitions_total",
			Help: "Account approval state transitions.",
		},
		[]string{"from", "to"},
	)
)

// HTTP collectors, labelled by the matched route pattern.
var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schoolhub_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_http_requests_total",
			Help: "HTTP requests, by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolhub_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(OTPIssued, OTPVerifications, AuthzDecisions, ApprovalTransitions)
	prometheus.MustRegister(HTTPInFlight, HTTPRequests, HTTPDuration)
}
