package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for outbound API calls
var (
	// Counter for requests by method and status code ("error" when no response arrived)
	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_client_requests_total",
			Help: "Total number of API requests sent by the test client.",
		},
		[]string{"method", "code"},
	)

	// Histogram for round-trip duration by method
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apitest_client_request_duration_seconds",
			Help:    "API request round-trip duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Counter for 401-triggered re-authentications, by result
	reauthCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_client_reauth_total",
			Help: "Total number of re-authentications after a 401, by result.",
		},
		[]string{"result"}, // success, failure
	)
)
