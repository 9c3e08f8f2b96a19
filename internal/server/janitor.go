// Package server contains HTTP handlers for the mock API.
// This file implements the background sweep of expired seen nonces.
package server

import (
	"context"
	"time"
)

// defaultJanitorInterval applies when RunNonceJanitor is given a non-positive interval.
const defaultJanitorInterval = time.Minute

// RunNonceJanitor removes expired seen nonces every interval until ctx is
// done. It returns nil on cancellation.
// Without it the nonce set only shrinks when a value is reused after expiry.
func (h *Handler) RunNonceJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Shutdown is not an error
			return nil
		case <-ticker.C:
			h.cleanupNonces(ctx)
		}
	}
}

// cleanupNonces runs one sweep against the handler clock. Failures are
// logged and counted; the next tick retries.
func (h *Handler) cleanupNonces(ctx context.Context) {
	if err := h.store.CleanupExpired(ctx, h.clock()); err != nil {
		incrementNonceCleanup("failure")
		h.logger.Warn("nonce cleanup failed", "error", err)
		return
	}
	incrementNonceCleanup("success")
}
