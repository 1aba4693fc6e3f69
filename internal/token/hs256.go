// AngelaMos | 2026
// hs256.go

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

var _ Issuer = (*HS256Issuer)(nil)

// HS256Issuer signs with a shared secret. Every verifier must hold the same
// secret, so it suits single-service deployments only.
type HS256Issuer struct {
	secret []byte
	cfg    config.TokenConfig
	now    func() time.Time
	parser *jwt.Parser
}

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

func NewHS256Issuer(cfg config.TokenConfig, opts ...Option) (*HS256Issuer, error) {
	if len(cfg.HMACSecret) < 32 {
		return nil, fmt.Errorf("hmac secret must be at least 32 bytes")
	}

	o := buildOptions(opts)

	return &HS256Issuer{
		secret: []byte(cfg.HMACSecret),
		cfg:    cfg,
		now:    o.now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(o.now),
		),
	}, nil
}

func (i *HS256Issuer) Algorithm() string {
	return config.AlgorithmHS256
}

func (i *HS256Issuer) Issue(principalID string) (string, time.Time, error) {
	if principalID == "" {
		return "", time.Time{}, fmt.Errorf("issue token: missing principal")
	}

	now := i.now()
	expiresAt := now.Add(i.cfg.AccessTTL)

	claims := accessClaims{
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

func (i *HS256Issuer) Verify(tokenString string) (string, error) {
	var claims accessClaims

	_, err := i.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", fmt.Errorf("verify token: %w", ErrMalformedToken)
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", fmt.Errorf("verify token: %w", ErrTokenExpired)
		default:
			return "", fmt.Errorf("verify token: %w", ErrSignatureInvalid)
		}
	}

	if claims.Type != accessTokenType {
		return "", fmt.Errorf("verify token: wrong type: %w", ErrMalformedToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("verify token: missing subject: %w", ErrMalformedToken)
	}

	return claims.Subject, nil
}
