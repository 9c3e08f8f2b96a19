// Package server contains HTTP handlers for the mock API.
// This file implements the readiness endpoint.
package server

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the storage ping made by the readiness check.
const readyTimeout = 5 * time.Second

// readyHandler returns 200 OK once the mock API can serve traffic.
// Orchestrators and the test client poll it before running suites.
//
// Readiness checks:
// 1. Store connectivity, for stores that expose Ping (PostgreSQL, MySQL, SQLite)
//
// The in-memory store has no Ping and is always ready.
// Returns 503 with a SERVICE_UNAVAILABLE envelope when the ping fails.
func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Keep a hung database from hanging the check
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	// Only database-backed stores implement Ping
	if p, ok := h.store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			// Bare routes skip wrap, so the content type is set here
			w.Header().Set(headerContentType, contentTypeJSON)
			h.writeError(w, http.StatusServiceUnavailable, codeUnavailable, "database not ready", correlationIDFrom(r.Context()), nil)
			return
		}
	}

	// All checks passed
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
