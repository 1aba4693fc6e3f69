// AngelaMos | 2026
// issuer.go

package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

var (
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrMalformedToken   = errors.New("token malformed")
)

const accessTokenType = "access"

// Issuer mints and verifies short-lived bearer tokens bound to a principal.
// Verification never touches storage, so access tokens cannot be revoked
// before they expire.
type Issuer interface {
	Issue(principalID string) (string, time.Time, error)
	Verify(token string) (string, error)
	Algorithm() string
}

// IsTokenError reports whether err came from access token verification.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrMalformedToken)
}

// New builds the issuer selected by cfg.Algorithm.
func New(cfg config.TokenConfig, opts ...Option) (Issuer, error) {
	switch strings.ToUpper(cfg.Algorithm) {
	case config.AlgorithmES256:
		issuer, err := NewES256Issuer(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return issuer, nil
	case config.AlgorithmHS256:
		issuer, err := NewHS256Issuer(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return issuer, nil
	}
	return nil, fmt.Errorf("unsupported token algorithm %q", cfg.Algorithm)
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
