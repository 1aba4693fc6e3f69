// AngelaMos | 2026
// es256.go

package token

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

var _ Issuer = (*ES256Issuer)(nil)

type ES256Issuer struct {
	privateKey jwk.Key
	publicKey  jwk.Key
	publicJWKS jwk.Set
	cfg        config.TokenConfig
	now        func() time.Time
}

// NewES256Issuer loads the PEM private key at cfg.PrivateKeyPath.
func NewES256Issuer(cfg config.TokenConfig, opts ...Option) (*ES256Issuer, error) {
	privateKeyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	privateKey, err := jwk.ParseKey(privateKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return newES256Issuer(cfg, privateKey, opts)
}

// NewES256IssuerFromKey builds an issuer around an in-memory P-256 key.
func NewES256IssuerFromKey(
	cfg config.TokenConfig,
	key *ecdsa.PrivateKey,
	opts ...Option,
) (*ES256Issuer, error) {
	privateKey, err := jwk.Import(key)
	if err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}

	return newES256Issuer(cfg, privateKey, opts)
}

func newES256Issuer(
	cfg config.TokenConfig,
	privateKey jwk.Key,
	opts []Option,
) (*ES256Issuer, error) {
	if setErr := privateKey.Set(jwk.AlgorithmKey, jwa.ES256()); setErr != nil {
		return nil, fmt.Errorf("set algorithm: %w", setErr)
	}

	var kid string
	if err := privateKey.Get(jwk.KeyIDKey, &kid); err != nil || kid == "" {
		if setErr := privateKey.Set(jwk.KeyIDKey, uuid.New().String()[:8]); setErr != nil {
			return nil, fmt.Errorf("set key id: %w", setErr)
		}
	}

	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	if setErr := publicKey.Set(jwk.KeyUsageKey, "sig"); setErr != nil {
		return nil, fmt.Errorf("set key usage: %w", setErr)
	}

	publicJWKS := jwk.NewSet()
	if addErr := publicJWKS.AddKey(publicKey); addErr != nil {
		return nil, fmt.Errorf("add key to set: %w", addErr)
	}

	o := buildOptions(opts)

	return &ES256Issuer{
		privateKey: privateKey,
		publicKey:  publicKey,
		publicJWKS: publicJWKS,
		cfg:        cfg,
		now:        o.now,
	}, nil
}

func (i *ES256Issuer) Algorithm() string {
	return config.AlgorithmES256
}

func (i *ES256Issuer) Issue(principalID string) (string, time.Time, error) {
	if principalID == "" {
		return "", time.Time{}, fmt.Errorf("issue token: missing principal")
	}

	now := i.now()
	expiresAt := now.Add(i.cfg.AccessTTL)

	tok, err := jwt.NewBuilder().
		JwtID(uuid.New().String()).
		Issuer(i.cfg.Issuer).
		Audience([]string{i.cfg.Audience}).
		Subject(principalID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(expiresAt).
		Claim("typ", accessTokenType).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.ES256(), i.privateKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return string(signed), expiresAt, nil
}

// Verify checks structure, then signature, then claims, so each failure maps
// to exactly one sentinel.
func (i *ES256Issuer) Verify(tokenString string) (string, error) {
	buf := []byte(tokenString)

	if _, err := jws.Parse(buf); err != nil {
		return "", fmt.Errorf("verify token: %w", ErrMalformedToken)
	}

	if _, err := jws.Verify(buf, jws.WithKey(jwa.ES256(), i.publicKey)); err != nil {
		return "", fmt.Errorf("verify token: %w", ErrSignatureInvalid)
	}

	tok, err := jwt.ParseInsecure(buf)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", ErrMalformedToken)
	}

	err = jwt.Validate(tok,
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		if isTokenExpiredError(err) {
			return "", fmt.Errorf("verify token: %w", ErrTokenExpired)
		}
		return "", fmt.Errorf("verify token: %w", ErrSignatureInvalid)
	}

	var tokenType string
	if err := tok.Get("typ", &tokenType); err != nil || tokenType != accessTokenType {
		return "", fmt.Errorf("verify token: wrong type: %w", ErrMalformedToken)
	}

	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return "", fmt.Errorf("verify token: missing subject: %w", ErrMalformedToken)
	}

	return subject, nil
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		strings.Contains(errStr, "not satisfied")
}
