// Package signing implements the request-signing protocol shared by the API
// client hooks and the mock server: parameters are stamped with a timestamp and
// nonce, canonicalized in key order, and digested together with a shared key.
package signing

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"
)

// DefaultWindow is the freshness window applied by Verify when none is given.
const DefaultWindow = 300 * time.Second

// Signed is the outcome of Sign. Params is a new map holding the caller's
// entries plus the stamped timestamp and nonce.
type Signed struct {
	Params    Params
	Signature string
	Timestamp int64
	Nonce     string
	Algorithm Algorithm
}

// Signer generates and verifies signatures. The zero value is not usable; build one with New.
// A Signer is safe for concurrent use.
type Signer struct {
	defaultKey  string
	nonceLength int
	nonces      NonceSource
	clock       func() time.Time
	logger      *slog.Logger
}

// Option configures a Signer.
type Option func(*Signer)

// WithDefaultKey sets the key used when a call passes an empty sign key.
func WithDefaultKey(key string) Option {
	return func(s *Signer) { s.defaultKey = key }
}

// WithNonceSource replaces the crypto/rand nonce generator.
func WithNonceSource(src NonceSource) Option {
	return func(s *Signer) { s.nonces = src }
}

// WithNonceLength changes the stamped nonce length.
func WithNonceLength(n int) Option {
	return func(s *Signer) { s.nonceLength = n }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Signer) { s.clock = clock }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) { s.logger = logger }
}

// New creates a Signer.
func New(opts ...Option) *Signer {
	s := &Signer{
		nonceLength: DefaultNonceLength,
		nonces:      RandomNonce{},
		clock:       time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Signer) resolveKey(signKey string) (string, error) {
	if signKey != "" {
		return signKey, nil
	}
	if s.defaultKey != "" {
		return s.defaultKey, nil
	}
	return "", ErrConfiguration
}

// Sign stamps a copy of params with the current timestamp and a fresh nonce and
// returns the signature over its canonical form. params itself is not modified.
func (s *Signer) Sign(params Params, signKey string, alg Algorithm) (Signed, error) {
	if !alg.Valid() {
		return Signed{}, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int(alg))
	}
	key, err := s.resolveKey(signKey)
	if err != nil {
		return Signed{}, err
	}

	stamped := make(Params, len(params)+2)
	maps.Copy(stamped, params)

	ts := s.clock().Unix()
	nonce, err := s.nonces.Nonce(s.nonceLength)
	if err != nil {
		return Signed{}, newSigningError(stamped, fmt.Errorf("generate nonce: %w", err))
	}
	stamped[KeyTimestamp] = ts
	stamped[KeyNonce] = nonce

	sig, err := alg.digest(Canonical(stamped, key))
	if err != nil {
		return Signed{}, newSigningError(stamped, err)
	}

	s.logger.Debug("signature generated", "algorithm", alg.String(), "timestamp", ts, "nonce", nonce, "params", len(stamped))
	return Signed{
		Params:    stamped,
		Signature: sig,
		Timestamp: ts,
		Nonce:     nonce,
		Algorithm: alg,
	}, nil
}

// SignInPlace signs params and writes the stamped timestamp and nonce back into
// the caller's map.
func (s *Signer) SignInPlace(params Params, signKey string, alg Algorithm) (string, error) {
	if params == nil {
		return "", fmt.Errorf("%w: nil map", ErrInvalidArgument)
	}
	signed, err := s.Sign(params, signKey, alg)
	if err != nil {
		return "", err
	}
	params[KeyTimestamp] = signed.Timestamp
	params[KeyNonce] = signed.Nonce
	return signed.Signature, nil
}

// Digest computes the signature over params exactly as given, without stamping.
func (s *Signer) Digest(params Params, signKey string, alg Algorithm) (string, error) {
	if !alg.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int(alg))
	}
	key, err := s.resolveKey(signKey)
	if err != nil {
		return "", err
	}
	sig, err := alg.digest(Canonical(params, key))
	if err != nil {
		return "", newSigningError(params, err)
	}
	return sig, nil
}

// Verify reports whether candidate is a fresh, valid signature for params.
// params must carry the timestamp and nonce from the signing side; they are
// reused as-is. A timestamp further than window from now in either direction
// fails. Verify never returns an error: every problem yields false.
func (s *Signer) Verify(params Params, candidate, signKey string, alg Algorithm, window time.Duration) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("signature verification panicked", "panic", rec)
			ok = false
		}
	}()

	if window <= 0 {
		window = DefaultWindow
	}
	rawTS, hasTS := params[KeyTimestamp]
	_, hasNonce := params[KeyNonce]
	if !hasTS || !hasNonce {
		s.logger.Warn("signature verification failed: timestamp or nonce missing")
		return false
	}
	ts, parsed := ParseTimestamp(rawTS)
	if !parsed {
		s.logger.Warn("signature verification failed: malformed timestamp", "timestamp", rawTS)
		return false
	}

	now := s.clock().Unix()
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(window/time.Second) {
		s.logger.Warn("signature verification failed: timestamp outside window",
			"window", window, "now", now, "timestamp", ts)
		return false
	}

	expected, err := s.Digest(params, signKey, alg)
	if err != nil {
		s.logger.Warn("signature verification failed: digest error", "error", err)
		return false
	}
	if !equalFold(expected, candidate) {
		s.logger.Warn("signature verification failed: mismatch", "nonce", params[KeyNonce])
		return false
	}
	s.logger.Debug("signature verified", "nonce", params[KeyNonce])
	return true
}

// equalFold compares hex digests case-insensitively in constant time for equal lengths.
func equalFold(expected, candidate string) bool {
	a := []byte(strings.ToLower(expected))
	b := []byte(strings.ToLower(strings.TrimSpace(candidate)))
	return subtle.ConstantTimeCompare(a, b) == 1
}
