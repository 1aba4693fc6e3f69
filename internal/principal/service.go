// AngelaMos | 2026
// service.go

package principal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrEmailExists        = errors.New("email already registered")
)

type Service struct {
	repo     Repository
	engine   *credential.Engine
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	engine *credential.Engine,
	notifier Notifier,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates an unverified principal and sends it a verification
// secret. A failed send is logged; the account still exists and the caller
// can ask for another message.
func (s *Service) Register(
	ctx context.Context,
	email, password, displayName string,
) (*Principal, error) {
	hash, err := core.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	p := &Principal{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		DisplayName:  displayName,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.sendVerification(ctx, p)
	return p, nil
}

// VerifyEmail consumes an EMAIL_VERIFY secret and marks its principal
// verified. The secret cannot be used twice.
func (s *Service) VerifyEmail(ctx context.Context, raw string) (*Principal, error) {
	c, err := s.engine.Consume(ctx, raw, credential.PurposeEmailVerify)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	if err := s.repo.MarkVerified(ctx, c.PrincipalID, s.now()); err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	p, err := s.repo.GetByID(ctx, c.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}

	return p, nil
}

// ResendVerification is silent for unknown and already verified addresses so
// it cannot be used to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	p, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}

	if p.EmailVerified {
		return nil
	}

	s.sendVerification(ctx, p)
	return nil
}

// Authenticate checks a password and returns the principal id. Unknown
// addresses take the same time as wrong passwords. The verification check
// runs only after the password matched.
func (s *Service) Authenticate(
	ctx context.Context,
	email, password string,
) (string, error) {
	p, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // equalizes timing only
			_, _ = core.VerifyPasswordTimingSafe(password, nil)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("authenticate: %w", err)
	}

	ok, err := core.VerifyPasswordTimingSafe(password, &p.PasswordHash)
	if err != nil || !ok {
		return "", ErrInvalidCredentials
	}

	if !p.EmailVerified {
		return "", ErrEmailNotVerified
	}

	if core.NeedsRehash(p.PasswordHash) {
		s.rehash(ctx, p.ID, password)
	}

	return p.ID, nil
}

// RequestPasswordReset issues a RESET_PASSWORD secret when the address is
// known. Unknown addresses succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	p, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}

	c, raw, err := s.engine.Create(ctx, p.ID, credential.CreateOptions{
		Purpose: credential.PurposeResetPassword,
	})
	if err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}

	s.notify(ctx, Message{
		Kind:        MessageResetPassword,
		PrincipalID: p.ID,
		Email:       p.Email,
		Secret:      raw,
		ExpiresAt:   c.ExpiresAt,
	})
	return nil
}

// ResetPassword consumes a RESET_PASSWORD secret, stores the new hash and
// revokes every outstanding credential of the principal, signing out all
// devices. The secret is only consumed once the principal has been loaded
// and the new hash computed, so those failures leave the link usable.
func (s *Service) ResetPassword(
	ctx context.Context,
	raw, newPassword string,
) error {
	pending, err := s.engine.Verify(ctx, raw, credential.PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	if _, err := s.repo.GetByID(ctx, pending.PrincipalID); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	hash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	c, err := s.engine.Consume(ctx, raw, credential.PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, c.PrincipalID, hash); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	n, err := s.engine.RevokeAllForPrincipal(ctx, c.PrincipalID, credential.ReasonPasswordReset)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset",
		"principal_id", c.PrincipalID,
		"revoked", n,
	)
	return nil
}

// ChangePassword requires the current password, then signs out every device
// the principal has.
func (s *Service) ChangePassword(
	ctx context.Context,
	principalID, currentPassword, newPassword string,
) error {
	p, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	ok, err := core.VerifyPassword(currentPassword, p.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, principalID, hash); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	if _, err := s.engine.RevokeAllForPrincipal(ctx, principalID, credential.ReasonPasswordReset); err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Principal, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func (s *Service) sendVerification(ctx context.Context, p *Principal) {
	c, raw, err := s.engine.Create(ctx, p.ID, credential.CreateOptions{
		Purpose: credential.PurposeEmailVerify,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "issue verification credential failed",
			"principal_id", p.ID,
			"error", err,
		)
		return
	}

	s.notify(ctx, Message{
		Kind:        MessageVerifyEmail,
		PrincipalID: p.ID,
		Email:       p.Email,
		Secret:      raw,
		ExpiresAt:   c.ExpiresAt,
	})
}

func (s *Service) notify(ctx context.Context, msg Message) {
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "notification failed",
			"kind", string(msg.Kind),
			"principal_id", msg.PrincipalID,
			"error", err,
		)
	}
}

func (s *Service) rehash(ctx context.Context, id, password string) {
	hash, err := core.HashPassword(password)
	if err != nil {
		return
	}
	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			"principal_id", id,
			"error", err,
		)
	}
}
