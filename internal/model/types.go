// Package model defines internal and external data shapes shared by the mock
// server, its storage layer and the test client. Internal types are used by
// storage and handlers, while DTOs are serialized on the wire.
package model

import "time"

// User is the internal storage model for an account registered with the mock
// API. PasswordHash is the salted digest of the password, never the password.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Email        string
	CreatedAt    time.Time
}

// SeenNonce records a nonce accepted by a signed endpoint. It is kept until
// ExpiresAt so a replay inside the freshness window is rejected.
type SeenNonce struct {
	Value     string
	ExpiresAt time.Time
}

// RegisterRequest is the body of POST /api/user/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the body of POST /api/user/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresAt string `json:"expiresAt"` // RFC3339
}

// UserDTO is the public view of a User.
type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt"` // RFC3339
}

// ToDTO converts a User to its wire form.
func (u User) ToDTO() UserDTO {
	return UserDTO{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// EncryptedBody is the envelope used by encrypted endpoints in both directions.
type EncryptedBody struct {
	EncryptData string `json:"encrypt_data"`
}

// SignatureResult is returned by signed endpoints after verification.
type SignatureResult struct {
	Verified  bool              `json:"verified"`
	Nonce     string            `json:"nonce"`
	Timestamp int64             `json:"timestamp"`
	Params    map[string]string `json:"params"`
}
