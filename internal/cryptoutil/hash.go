// Package cryptoutil holds the digest and cipher primitives used by the harness:
// salted MD5/SHA-256 hex digests, Base64, AES-CBC with PKCS#7 padding, and
// RSA PKCS#1 v1.5.
package cryptoutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
	"unicode/utf8"
)

// Standard error values used across this package. Every error returned here matches ErrCrypto.
var (
	ErrCrypto          = errors.New("crypto")
	ErrInvalidEncoding = fmt.Errorf("%w: content is not valid UTF-8", ErrCrypto)
	ErrUnsupportedHash = fmt.Errorf("%w: unsupported hash", ErrCrypto)
)

// MD5Hex returns the lowercase hex MD5 of content+salt.
func MD5Hex(content, salt string) (string, error) {
	return hexDigest(md5.New(), content, salt)
}

// SHA256Hex returns the lowercase hex SHA-256 of content+salt.
func SHA256Hex(content, salt string) (string, error) {
	return hexDigest(sha256.New(), content, salt)
}

func hexDigest(h hash.Hash, content, salt string) (string, error) {
	if !utf8.ValidString(content) || !utf8.ValidString(salt) {
		return "", ErrInvalidEncoding
	}
	h.Write([]byte(content))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Salts are the configured default salts for general-purpose hashing, such as
// storing test-user passwords. The signing protocol never uses them.
type Salts struct {
	MD5    string `yaml:"md5_salt"`
	SHA256 string `yaml:"sha256_salt"`
}

// Hash digests content with the named algorithm ("md5" or "sha256") and the
// matching configured salt.
func (s Salts) Hash(kind, content string) (string, error) {
	switch strings.ToLower(kind) {
	case "md5":
		return MD5Hex(content, s.MD5)
	case "sha256", "":
		return SHA256Hex(content, s.SHA256)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, kind)
	}
}
