// Package server contains HTTP handlers for the mock API.
// This file declares the domain counters and the metrics endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for mock API operations
var (
	// Counter for inbound signature checks
	signatureVerificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_signature_verifications_total",
			Help: "Total number of inbound signature verifications, by result.",
		},
		[]string{"result"}, // valid, invalid, missing, replay, error
	)

	// Counter for login attempts
	loginCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_logins_total",
			Help: "Total number of login attempts, by result.",
		},
		[]string{"result"}, // success, failure
	)

	// Counter for issued access tokens
	jwtIssuanceCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apitest_jwt_issuance_total",
			Help: "Total number of access tokens issued.",
		},
	)

	// Counter for nonces evicted by the janitor
	nonceCleanupCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_nonce_cleanup_total",
			Help: "Total number of seen-nonce cleanup runs, by result.",
		},
		[]string{"result"}, // success, failure
	)
)

// metricsHandler serves Prometheus metrics on the main listener.
// The exposition includes:
// - HTTP request count and duration (from loggingMiddleware)
// - Go runtime and process collectors registered by the client library
// - Signature, login, token and nonce cleanup counters declared above
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	// Delegate to the default registry's handler
	promhttp.Handler().ServeHTTP(w, r)
}

// NewMetricsHandler returns a standalone Prometheus handler.
// apitestd mounts it on its own listener when a metrics address is configured,
// keeping scrapes off the API port.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// incrementSignatureVerification counts one inbound signature check by outcome
func incrementSignatureVerification(result string) {
	signatureVerificationCount.WithLabelValues(result).Inc()
}

// incrementLogin counts one login attempt by outcome
func incrementLogin(result string) {
	loginCount.WithLabelValues(result).Inc()
}

// incrementJWTIssuance counts one issued access token
func incrementJWTIssuance() {
	jwtIssuanceCount.Inc()
}

// incrementNonceCleanup counts one janitor run by outcome
func incrementNonceCleanup(result string) {
	nonceCleanupCount.WithLabelValues(result).Inc()
}
