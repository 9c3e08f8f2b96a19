package signing

import (
	"fmt"
	"strings"

	"github.com/RegistryAccord/registryaccord-apitest-go/internal/cryptoutil"
)

// Algorithm selects the digest used for signatures.
type Algorithm int

const (
	// SHA256 produces 64 hex characters. It is the default.
	SHA256 Algorithm = iota
	// MD5 produces 32 hex characters.
	MD5
)

func (a Algorithm) String() string {
	switch a {
	case SHA256:
		return "sha256"
	case MD5:
		return "md5"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a == SHA256 || a == MD5
}

// ParseAlgorithm maps a case-insensitive name to an Algorithm.
// An empty name selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sha256":
		return SHA256, nil
	case "md5":
		return MD5, nil
	default:
		return 0, fmt.Errorf("%w: %q (supported: md5, sha256)", ErrUnsupportedAlgorithm, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so configuration files can name the algorithm.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// digest hashes text with no salt.
func (a Algorithm) digest(text string) (string, error) {
	switch a {
	case MD5:
		return cryptoutil.MD5Hex(text, "")
	case SHA256:
		return cryptoutil.SHA256Hex(text, "")
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, int(a))
	}
}
