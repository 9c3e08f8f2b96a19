// Package server contains HTTP handlers and middleware for the mock API.
// This file implements the request timeout and access logging middleware
// along with the per-request Prometheus metrics they feed.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for inbound HTTP requests
var (
	// Counter for total HTTP requests by method, path, and status code
	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apitest_server_requests_total",
			Help: "Total number of HTTP requests served by the mock API.",
		},
		[]string{"method", "path", "code"},
	)

	// Histogram for HTTP request duration by method and path
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apitest_server_request_duration_seconds",
			Help:    "Mock API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// requestTimeout is the upper bound on any single request, store calls included.
const requestTimeout = 30 * time.Second

// timeoutMiddleware bounds every request with requestTimeout.
// The deadline rides on the request context, so storage calls made by the
// handlers observe it as well.
func (h *Handler) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Derive the bounded context from the inbound one
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		// Release the timer once the handler returns
		defer cancel()
		// Hand the bounded request down the chain
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware writes one structured log line per request and records
// the request counter and latency histogram.
// The correlation id set by wrap is read back from the response headers so
// access logs can be joined with handler logs.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Start the latency clock
		start := time.Now()

		// Capture the status code the handler actually writes
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Run the rest of the chain
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request completed",
			"method", r.Method,           // HTTP method
			"path", r.URL.Path,           // Request path
			"status", wrapped.statusCode, // Status written by the handler
			"duration", duration,         // Time spent in the chain
			"user_agent", r.UserAgent(),  // Client identification
			"correlationId", wrapped.Header().Get(headerCorrelationID),
		)

		// An empty path is labelled as root
		path := r.URL.Path
		if path == "" {
			path = "/"
		}

		// Count the request under its final status
		requestCount.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		// Record latency for the route
		requestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to remember the status code.
// Only the first WriteHeader counts: the panic path in wrap may try to write
// a 500 after a handler already committed its status.
type responseWriter struct {
	http.ResponseWriter      // Embedded original ResponseWriter
	statusCode          int  // First status code written
	wroteHeader         bool // Set once headers are on the wire
}

// WriteHeader records the first status code and forwards the call.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code // First write wins
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write marks the header as written; an implicit 200 is already recorded.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
