// Package metrics declares the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests made.",
		},
		[]string{"method", "path", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// VendorCalls counts Axiam API calls by endpoint and outcome code.
	VendorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axiam_calls_total",
			Help: "Total number of Axiam API calls, by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	AuthTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axiam_auth_token_refreshes_total",
			Help: "Total number of Axiam auth-token fetches, by result.",
		},
		[]string{"result"},
	)

	LoginInitiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facial_login_initiations_total",
			Help: "Total number of facial login push requests, by result.",
		},
		[]string{"result"},
	)

	SessionCreations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facial_session_creations_total",
			Help: "Total number of session creation attempts, by strategy and result.",
		},
		[]string{"strategy", "result"},
	)

	RelaySubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_subscriptions_total",
			Help: "Total number of relay subscription attempts, by channel kind and result.",
		},
		[]string{"channel", "result"},
	)

	RelayActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Number of currently open relay subscriptions.",
		},
	)

	// RelayEvents counts forwarded events by their status field.
	RelayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total number of relay events forwarded, by status.",
		},
		[]string{"status"},
	)
)
