// Package server contains HTTP handlers for the mock API.
// This file implements issuing and validating the HS256 access tokens
// returned by the login endpoint.
package server

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/ident"
	"github.com/RegistryAccord/registryaccord-apitest-go/internal/model"
)

// TokenIssuer signs HS256 access tokens for logged-in users.
type TokenIssuer struct {
	secret []byte           // HMAC secret shared with JWTValidator
	issuer string           // Value of the iss claim
	ttl    time.Duration    // Token lifetime
	clock  func() time.Time // Source of iat and exp
}

// NewTokenIssuer creates a TokenIssuer. A non-positive ttl means ten minutes.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration, clock func() time.Time) *TokenIssuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, clock: clock}
}

// Issue returns a signed token for user and its expiry.
// Claims: sub (user id), name (username), iss, iat, exp and a random jti.
func (i *TokenIssuer) Issue(user model.User) (string, time.Time, error) {
	// Unique token id so two logins in the same second differ
	jti, err := ident.NewTokenID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}
	issuedAt := i.clock()
	expires := issuedAt.Add(i.ttl)
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":  user.ID,
		"name": user.Username,
		"iss":  i.issuer,
		"iat":  issuedAt.Unix(),
		"exp":  expires.Unix(),
		"jti":  jti,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Claims are the validated contents of an access token.
type Claims struct {
	Subject  string
	Username string
	TokenID  string
	Expires  time.Time
}

// JWTValidator checks access tokens issued by TokenIssuer with fail-closed semantics.
// Any missing or malformed claim rejects the token.
type JWTValidator struct {
	secret []byte           // HMAC secret shared with TokenIssuer
	issuer string           // Required iss claim
	clock  func() time.Time // Reference time for exp and iat checks
}

// NewJWTValidator creates a new JWTValidator instance.
func NewJWTValidator(secret []byte, issuer string, clock func() time.Time) *JWTValidator {
	if clock == nil {
		clock = time.Now
	}
	return &JWTValidator{secret: secret, issuer: issuer, clock: clock}
}

// ValidateToken verifies the signature and the iss, sub, name, iat, exp and jti claims.
func (v *JWTValidator) ValidateToken(tokenString string) (Claims, error) {
	// Parse and verify the signature; only HS256 is accepted
	token, err := jwtlib.Parse(tokenString, func(token *jwtlib.Token) (interface{}, error) {
		if token.Method != jwtlib.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithTimeFunc(v.clock), jwtlib.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("failed to parse token: %w", err)
	}

	// Extract claims from the verified token
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("failed to parse claims")
	}

	// Validate issuer claim - must match our configured issuer
	if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
		return Claims{}, fmt.Errorf("missing or invalid iss claim")
	}

	// Subject and username identify the account
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, fmt.Errorf("missing or invalid sub claim")
	}
	name, ok := claims["name"].(string)
	if !ok || name == "" {
		return Claims{}, fmt.Errorf("missing or invalid name claim")
	}

	// Issued-at must be present and no more than five minutes ahead
	if iat, ok := claims["iat"].(float64); !ok || iat == 0 {
		return Claims{}, fmt.Errorf("missing or invalid iat claim")
	} else if time.Unix(int64(iat), 0).After(v.clock().Add(5 * time.Minute)) {
		return Claims{}, fmt.Errorf("token issued in the future")
	}

	// Expiry was enforced by the parser; read it back for the caller
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, fmt.Errorf("missing or invalid exp claim")
	}

	// Token id must be present
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return Claims{}, fmt.Errorf("missing or invalid jti claim")
	}

	return Claims{Subject: sub, Username: name, TokenID: jti, Expires: exp.Time}, nil
}
