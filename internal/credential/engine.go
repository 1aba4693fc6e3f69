// AngelaMos | 2026
// engine.go

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

const (
	tracerName = "credential"

	// Raw secrets are base64url of at least 32 bytes; anything far outside
	// that range is rejected before touching the store.
	maxRawSecretLength = 1024
)

// Engine issues, verifies, rotates and revokes credentials. It keeps no state
// of its own; every decision is made from the record the store returns.
type Engine struct {
	store   Store
	cfg     config.CredentialConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store Store, cfg config.CredentialConfig, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type CreateOptions struct {
	Purpose Purpose
	// TTL of zero selects the configured default for Purpose.
	TTL      time.Duration
	Device   DeviceInfo
	FamilyID *string
}

func (e *Engine) defaultTTL(p Purpose) time.Duration {
	switch p {
	case PurposeRefresh:
		return e.cfg.RefreshTTL
	case PurposeEmailVerify:
		return e.cfg.EmailVerifyTTL
	case PurposeResetPassword:
		return e.cfg.ResetTTL
	}
	return 0
}

// Create mints a credential and returns it with its raw secret. The raw
// secret is not retained anywhere; losing it means issuing a new credential.
func (e *Engine) Create(
	ctx context.Context,
	principalID string,
	opts CreateOptions,
) (*Credential, string, error) {
	ctx, span := core.StartSpan(ctx, tracerName, "credential.create",
		attribute.String("credential.purpose", string(opts.Purpose)),
	)

	c, raw, err := e.newCredential(principalID, opts)
	if err == nil {
		err = e.store.Put(ctx, c)
	}
	core.EndSpan(span, err)

	if err != nil {
		return nil, "", fmt.Errorf("create credential: %w", err)
	}

	e.metrics.inc(eventIssued)
	return c, raw, nil
}

func (e *Engine) newCredential(
	principalID string,
	opts CreateOptions,
) (*Credential, string, error) {
	if principalID == "" {
		return nil, "", fmt.Errorf("missing principal: %w", ErrInvalidOptions)
	}
	if !opts.Purpose.Valid() {
		return nil, "", fmt.Errorf("purpose %q: %w", opts.Purpose, ErrInvalidOptions)
	}
	if opts.FamilyID != nil && opts.Purpose != PurposeRefresh {
		return nil, "", fmt.Errorf("family on %s credential: %w", opts.Purpose, ErrInvalidOptions)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = e.defaultTTL(opts.Purpose)
	}
	if ttl <= 0 {
		return nil, "", fmt.Errorf("non-positive ttl: %w", ErrInvalidOptions)
	}

	raw, err := core.GenerateSecret(e.cfg.SecretBytes)
	if err != nil {
		return nil, "", err
	}

	familyID := opts.FamilyID
	if opts.Purpose == PurposeRefresh && familyID == nil {
		id := uuid.New().String()
		familyID = &id
	}

	device := opts.Device
	if device.Label == "" {
		device.Label = unknownDevice
	}

	now := e.now()
	return &Credential{
		ID:           ulid.Make().String(),
		PrincipalID:  principalID,
		Purpose:      opts.Purpose,
		SecretDigest: core.HashToken(raw),
		Device:       device,
		ExpiresAt:    now.Add(ttl),
		FamilyID:     familyID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, raw, nil
}

// Verify resolves a raw secret to its record. Branches are checked in a
// fixed order: unknown, revoked (reuse), expired, purpose mismatch. Pass
// PurposeAny to skip the purpose check.
func (e *Engine) Verify(
	ctx context.Context,
	raw string,
	expected Purpose,
) (*Credential, error) {
	ctx, span := core.StartSpan(ctx, tracerName, "credential.verify")
	c, err := e.verify(ctx, raw, expected)
	core.EndSpan(span, err)

	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	return c, nil
}

func (e *Engine) verify(
	ctx context.Context,
	raw string,
	expected Purpose,
) (*Credential, error) {
	if raw == "" || len(raw) > maxRawSecretLength {
		e.metrics.inc(eventInvalid)
		return nil, ErrCredentialInvalid
	}

	c, err := e.store.FindByDigest(ctx, core.HashToken(raw))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			e.metrics.inc(eventInvalid)
			return nil, ErrCredentialInvalid
		}
		e.metrics.inc(eventStoreUnhealthy)
		return nil, err
	}

	if c.Revoked {
		e.handleReuse(ctx, c)
		return nil, ErrCredentialReused
	}

	if c.IsExpiredAt(e.now()) {
		e.metrics.inc(eventExpired)
		return nil, ErrCredentialExpired
	}

	if expected != PurposeAny && c.Purpose != expected {
		e.metrics.inc(eventInvalid)
		return nil, ErrCredentialInvalid
	}

	return c, nil
}

// handleReuse revokes the whole family of a replayed credential. Failure is
// logged for operators; the caller fails regardless.
func (e *Engine) handleReuse(ctx context.Context, c *Credential) {
	e.metrics.inc(eventReuseDetected)

	log := e.logger.With(
		"credential_id", c.ID,
		"principal_id", c.PrincipalID,
		"purpose", string(c.Purpose),
	)

	if c.FamilyID == nil {
		log.WarnContext(ctx, "revoked credential presented")
		return
	}

	n, err := e.store.UpdateMany(ctx,
		Filter{FamilyID: *c.FamilyID, OnlyUnrevoked: true},
		Patch{RevokedAt: e.now(), Reason: ReasonReuseDetected},
	)
	if err != nil {
		e.metrics.inc(eventRevokeFailed)
		log.ErrorContext(ctx, "credential reuse detected but family revocation failed",
			"family_id", *c.FamilyID,
			"error", err,
		)
		return
	}

	if n > 0 {
		e.metrics.inc(eventFamilyRevoked)
	}
	log.WarnContext(ctx, "credential reuse detected, family revoked",
		"family_id", *c.FamilyID,
		"revoked", n,
	)
}

// Rotate exchanges a live refresh secret for a new one in the same family.
// The presented record is revoked (not deleted) so a later replay is caught
// as reuse. When two callers race on one secret, the loser is treated as a
// replay.
func (e *Engine) Rotate(
	ctx context.Context,
	raw string,
	device DeviceInfo,
) (*Credential, string, error) {
	ctx, span := core.StartSpan(ctx, tracerName, "credential.rotate")
	next, secret, err := e.rotate(ctx, raw, device)
	core.EndSpan(span, err)

	if err != nil {
		return nil, "", fmt.Errorf("rotate credential: %w", err)
	}
	return next, secret, nil
}

func (e *Engine) rotate(
	ctx context.Context,
	raw string,
	device DeviceInfo,
) (*Credential, string, error) {
	current, err := e.verify(ctx, raw, PurposeRefresh)
	if err != nil {
		return nil, "", err
	}

	next, secret, err := e.newCredential(current.PrincipalID, CreateOptions{
		Purpose:  PurposeRefresh,
		Device:   device,
		FamilyID: current.FamilyID,
	})
	if err != nil {
		return nil, "", err
	}

	err = e.store.Swap(ctx, current.ID, next, Patch{
		RevokedAt: e.now(),
		Reason:    ReasonRotated,
	})
	if errors.Is(err, ErrStaleRecord) {
		current.Revoked = true
		e.handleReuse(ctx, current)
		return nil, "", ErrCredentialReused
	}
	if err != nil {
		return nil, "", err
	}

	e.metrics.inc(eventRotated)
	return next, secret, nil
}

// Consume verifies a single-use credential of the given purpose and deletes
// it. Of two concurrent consumers only one gets the record.
func (e *Engine) Consume(
	ctx context.Context,
	raw string,
	purpose Purpose,
) (*Credential, error) {
	ctx, span := core.StartSpan(ctx, tracerName, "credential.consume",
		attribute.String("credential.purpose", string(purpose)),
	)
	c, err := e.consume(ctx, raw, purpose)
	core.EndSpan(span, err)

	if err != nil {
		return nil, fmt.Errorf("consume credential: %w", err)
	}
	return c, nil
}

func (e *Engine) consume(
	ctx context.Context,
	raw string,
	purpose Purpose,
) (*Credential, error) {
	if !purpose.Valid() {
		return nil, ErrInvalidOptions
	}

	c, err := e.verify(ctx, raw, purpose)
	if err != nil {
		return nil, err
	}

	if err := e.store.Delete(ctx, c.ID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrCredentialInvalid
		}
		return nil, err
	}

	e.metrics.inc(eventConsumed)
	return c, nil
}

// Revoke marks the record behind raw as revoked. Unknown and already revoked
// secrets are not errors; only store outages are reported.
func (e *Engine) Revoke(ctx context.Context, raw string) error {
	if raw == "" || len(raw) > maxRawSecretLength {
		return nil
	}

	ctx, span := core.StartSpan(ctx, tracerName, "credential.revoke")
	n, err := e.store.UpdateMany(ctx,
		Filter{Digest: core.HashToken(raw), OnlyUnrevoked: true},
		Patch{RevokedAt: e.now(), Reason: ReasonLogout},
	)
	core.EndSpan(span, err)

	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}

	e.metrics.add(eventRevoked, float64(n))
	return nil
}

func (e *Engine) RevokeFamily(
	ctx context.Context,
	familyID, reason string,
) (int64, error) {
	if familyID == "" {
		return 0, fmt.Errorf("revoke family: %w", ErrInvalidOptions)
	}

	ctx, span := core.StartSpan(ctx, tracerName, "credential.revoke_family")
	n, err := e.store.UpdateMany(ctx,
		Filter{FamilyID: familyID, OnlyUnrevoked: true},
		Patch{RevokedAt: e.now(), Reason: reason},
	)
	core.EndSpan(span, err)

	if err != nil {
		return 0, fmt.Errorf("revoke family: %w", err)
	}

	e.metrics.add(eventRevoked, float64(n))
	return n, nil
}

func (e *Engine) RevokeAllForPrincipal(
	ctx context.Context,
	principalID, reason string,
) (int64, error) {
	if principalID == "" {
		return 0, fmt.Errorf("revoke principal credentials: %w", ErrInvalidOptions)
	}

	ctx, span := core.StartSpan(ctx, tracerName, "credential.revoke_principal")
	n, err := e.store.UpdateMany(ctx,
		Filter{PrincipalID: principalID, OnlyUnrevoked: true},
		Patch{RevokedAt: e.now(), Reason: reason},
	)
	core.EndSpan(span, err)

	if err != nil {
		return 0, fmt.Errorf("revoke principal credentials: %w", err)
	}

	e.metrics.add(eventRevoked, float64(n))
	return n, nil
}

// RevokeSession revokes one refresh credential by id on behalf of its owner.
// Ids belonging to other principals look exactly like unknown ids.
func (e *Engine) RevokeSession(
	ctx context.Context,
	principalID, credentialID string,
) error {
	if principalID == "" || credentialID == "" {
		return fmt.Errorf("revoke session: %w", ErrCredentialInvalid)
	}

	n, err := e.store.UpdateMany(ctx,
		Filter{ID: credentialID, PrincipalID: principalID, OnlyUnrevoked: true},
		Patch{RevokedAt: e.now(), Reason: ReasonSessionRevoke},
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("revoke session: %w", ErrCredentialInvalid)
	}

	e.metrics.inc(eventRevoked)
	return nil
}

// ActiveSessions lists the principal's live refresh credentials, newest
// first, without digests.
func (e *Engine) ActiveSessions(
	ctx context.Context,
	principalID string,
) ([]SessionView, error) {
	records, err := e.store.ListActive(ctx, principalID, e.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]SessionView, 0, len(records))
	for i := range records {
		if records[i].Purpose != PurposeRefresh {
			continue
		}
		sessions = append(sessions, ToSessionView(&records[i]))
	}

	return sessions, nil
}
