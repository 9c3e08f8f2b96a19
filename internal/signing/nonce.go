package signing

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// DefaultNonceLength is the nonce size stamped onto signed params.
const DefaultNonceLength = 16

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(alphanumeric) that fits in a byte.
// Bytes at or above it are rejected so every character is equally likely.
const maxUnbiased = 256 - 256%len(alphanumeric)

// NonceSource produces random alphanumeric tokens.
type NonceSource interface {
	Nonce(length int) (string, error)
}

// NonceFunc adapts a function to NonceSource.
type NonceFunc func(length int) (string, error)

// Nonce calls f.
func (f NonceFunc) Nonce(length int) (string, error) {
	return f(length)
}

// RandomNonce draws uniformly from letters and digits using crypto/rand.
type RandomNonce struct{}

// Nonce returns length characters from [A-Za-z0-9].
func (RandomNonce) Nonce(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("nonce length must be > 0")
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, alphanumeric[int(b)%len(alphanumeric)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// FixedNonce always returns the same token. Tests use it to pin signatures.
type FixedNonce string

// Nonce returns the fixed token regardless of length.
func (f FixedNonce) Nonce(int) (string, error) {
	return string(f), nil
}
