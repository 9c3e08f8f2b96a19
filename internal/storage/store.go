// Package storage provides interfaces and implementations for the mock API's
// persistent state: registered users and the seen-nonce set that backs replay
// protection on signed endpoints.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
)

// Standard error values used across storage implementations
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists or the operation would violate invariants.
	ErrConflict = errors.New("conflict")
)

// UserStore persists accounts created through the register endpoint.
type UserStore interface {
	// CreateUser stores a new user; ErrConflict when the username is taken
	CreateUser(ctx context.Context, user model.User) error
	// GetUser retrieves a user by username
	GetUser(ctx context.Context, username string) (model.User, error)
}

// NonceStore remembers nonces accepted by signed endpoints.
// A nonce may be used once until it expires.
type NonceStore interface {
	// Remember records the nonce; ErrConflict when it is already present and
	// still unexpired at now. The caller supplies now so the check uses the
	// same clock that verified the signature.
	Remember(ctx context.Context, nonce model.SeenNonce, now time.Time) error
	// CleanupExpired removes nonces whose expiry is at or before now
	CleanupExpired(ctx context.Context, now time.Time) error
}

// Store aggregates all persistence capabilities required by the mock server.
type Store interface {
	UserStore
	NonceStore
}
