package client

import "sync"

// Session holds the access token shared by the hooks of one test run.
// It replaces process-wide token state; pass it explicitly to whatever needs it.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Token returns the current token, or "" when not logged in.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear forgets the token.
func (s *Session) Clear() {
	s.SetToken("")
}

// maskToken keeps a short prefix for log correlation.
func maskToken(token string) string {
	const keep = 10
	if len(token) <= keep {
		return "***"
	}
	return token[:keep] + "***"
}
