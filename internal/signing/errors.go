package signing

import (
	"errors"
	"fmt"
	"maps"
)

// Standard error values returned by the signer.
var (
	// ErrConfiguration indicates the sign key is missing from both the call and the signer defaults.
	ErrConfiguration = errors.New("signing: sign key not configured")
	// ErrInvalidArgument indicates parameters that are not a string-keyed mapping.
	ErrInvalidArgument = errors.New("signing: params must be a mapping")
	// ErrUnsupportedAlgorithm indicates an algorithm other than md5 or sha256.
	ErrUnsupportedAlgorithm = errors.New("signing: unsupported algorithm")
	// ErrSigningFailed indicates a failure while computing the digest.
	ErrSigningFailed = errors.New("signing: signature generation failed")
)

// SigningError carries the parameters that were being signed when the digest failed.
// The sign key is never included.
type SigningError struct {
	Params Params
	Err    error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%v: %v (params: %v)", ErrSigningFailed, e.Err, e.Params)
}

func (e *SigningError) Unwrap() []error {
	return []error{ErrSigningFailed, e.Err}
}

func newSigningError(params Params, err error) error {
	return &SigningError{Params: maps.Clone(params), Err: err}
}
