// AngelaMos | 2026
// errors.go

package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialInvalid covers both "never issued" and "wrong purpose" so
	// callers cannot use it as an oracle.
	ErrCredentialInvalid = errors.New("credential invalid")
	ErrCredentialExpired = errors.New("credential expired")
	// ErrCredentialReused is returned only after the credential's family has
	// been revoked (or revocation was attempted and logged).
	ErrCredentialReused = errors.New("credential reuse detected")

	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrDuplicateDigest  = errors.New("duplicate secret digest")
	ErrStaleRecord      = errors.New("credential changed concurrently")
	ErrInvalidOptions   = errors.New("invalid credential options")
)

// IsAuthFailure reports whether err should send the caller back to sign-in.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrCredentialReused)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
