// Package server contains HTTP handlers and middleware for the mock API.
// This file implements CORS handling for browser-based API tools.
package server

import "net/http"

// corsMiddleware adds permissive CORS headers and answers preflight requests.
// The mock API is a local test target, so any origin is accepted.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Headers exposed to cross-origin callers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		// Preflight requests stop here
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Continue with the next handler
		next.ServeHTTP(w, r)
	})
}
