package storage

import (
	"context"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
)

// memory keeps all state in maps guarded by one lock.
type memory struct {
	mu     sync.RWMutex          // Guards both maps
	users  map[string]model.User // Keyed by username
	nonces map[string]time.Time  // Nonce value to expiry
}

// NewMemory returns a concurrency-safe in-memory implementation of Store.
// Useful for tests, demos, or as a default ephemeral backend.
func NewMemory() Store {
	return &memory{
		users:  make(map[string]model.User),
		nonces: make(map[string]time.Time),
	}
}

// CreateUser stores the user keyed by username.
func (m *memory) CreateUser(ctx context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Usernames are unique
	if _, ok := m.users[user.Username]; ok {
		return ErrConflict
	}
	m.users[user.Username] = user
	return nil
}

// GetUser retrieves a user by username. Returns ErrNotFound when no user exists.
func (m *memory) GetUser(ctx context.Context, username string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[username]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

// Remember records the nonce unless an entry unexpired at now already exists.
// An expired entry is replaced.
func (m *memory) Remember(ctx context.Context, nonce model.SeenNonce, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Entries still live at the caller's clock block reuse
	if exp, ok := m.nonces[nonce.Value]; ok && exp.After(now) {
		return ErrConflict
	}
	m.nonces[nonce.Value] = nonce.ExpiresAt
	return nil
}

// CleanupExpired drops nonces that expired at or before now.
func (m *memory) CleanupExpired(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for v, exp := range m.nonces {
		// Expiry is inclusive, matching Remember
		if !exp.After(now) {
			delete(m.nonces, v)
		}
	}
	return nil
}
