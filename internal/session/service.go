// AngelaMos | 2026
// service.go

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
	"github.com/carterperez-dev/templates/credential-engine/internal/token"
)

// Issued is what a successful login or refresh hands back to the transport.
// RefreshToken is the raw secret; it goes to the client once and nowhere else.
type Issued struct {
	PrincipalID      string
	SessionID        string
	FamilyID         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Service struct {
	engine *credential.Engine
	issuer token.Issuer
	logger *slog.Logger
}

func NewService(
	engine *credential.Engine,
	issuer token.Issuer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine: engine,
		issuer: issuer,
		logger: logger,
	}
}

// Login starts a new session family for a principal the caller has already
// authenticated.
func (s *Service) Login(
	ctx context.Context,
	principalID string,
	device credential.DeviceInfo,
) (*Issued, error) {
	c, raw, err := s.engine.Create(ctx, principalID, credential.CreateOptions{
		Purpose: credential.PurposeRefresh,
		Device:  device,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	issued, err := s.issue(c, raw)
	if err != nil {
		//nolint:errcheck // the unreturned secret is unusable either way
		_, _ = s.engine.RevokeFamily(ctx, c.Family(), credential.ReasonLogout)
		return nil, fmt.Errorf("login: %w", err)
	}

	return issued, nil
}

// Refresh rotates the presented secret and mints a new access token for the
// same principal. A replayed secret surfaces as credential.ErrCredentialReused
// after its whole family has been revoked.
func (s *Service) Refresh(
	ctx context.Context,
	raw string,
	device credential.DeviceInfo,
) (*Issued, error) {
	next, secret, err := s.engine.Rotate(ctx, raw, device)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	issued, err := s.issue(next, secret)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	return issued, nil
}

// Logout never fails from the caller's point of view.
func (s *Service) Logout(ctx context.Context, raw string) error {
	if err := s.engine.Revoke(ctx, raw); err != nil {
		s.logger.WarnContext(ctx, "logout revoke failed", "error", err)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, principalID string) (int64, error) {
	n, err := s.engine.RevokeAllForPrincipal(ctx, principalID, credential.ReasonLogoutAll)
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}
	return n, nil
}

func (s *Service) ActiveSessions(
	ctx context.Context,
	principalID string,
) ([]credential.SessionView, error) {
	return s.engine.ActiveSessions(ctx, principalID)
}

func (s *Service) RevokeSession(ctx context.Context, principalID, sessionID string) error {
	return s.engine.RevokeSession(ctx, principalID, sessionID)
}

// Authorize resolves a bearer token to its principal.
func (s *Service) Authorize(accessToken string) (string, error) {
	return s.issuer.Verify(accessToken)
}

func (s *Service) issue(c *credential.Credential, raw string) (*Issued, error) {
	access, accessExp, err := s.issuer.Issue(c.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &Issued{
		PrincipalID:      c.PrincipalID,
		SessionID:        c.ID,
		FamilyID:         c.Family(),
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: c.ExpiresAt,
	}, nil
}

// IsReauthRequired reports whether err must be answered with the uniform
// "sign in again" outcome.
func IsReauthRequired(err error) bool {
	return credential.IsAuthFailure(err) || token.IsTokenError(err)
}

// failureKind names the internal cause for logs and telemetry only.
func failureKind(err error) string {
	switch {
	case errors.Is(err, credential.ErrCredentialReused):
		return "reused"
	case errors.Is(err, credential.ErrCredentialExpired):
		return "expired"
	case errors.Is(err, credential.ErrCredentialInvalid):
		return "invalid"
	case errors.Is(err, token.ErrTokenExpired):
		return "access_expired"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "access_signature"
	case errors.Is(err, token.ErrMalformedToken):
		return "access_malformed"
	}
	return "other"
}
