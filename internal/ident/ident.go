// Package ident generates the random identifiers handed out by the mock API:
// user IDs and JWT token IDs.
package ident

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"github.com/mr-tron/base58"
)

// UserPrefix starts every generated user ID.
const UserPrefix = "usr_"

var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NewUserID returns "usr_" followed by 24 lowercase base32 characters drawn
// from 128 bits of randomness.
func NewUserID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := strings.ToLower(encoding.EncodeToString(buf))
	if len(id) > 24 {
		id = id[:24]
	}
	return UserPrefix + id, nil
}

// NewTokenID returns a base58 encoded 128-bit random value for the jti claim.
func NewTokenID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}
