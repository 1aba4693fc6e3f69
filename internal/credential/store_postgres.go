// AngelaMos | 2026
// store_postgres.go

package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type credentialRow struct {
	ID           string     `db:"id"`
	PrincipalID  string     `db:"principal_id"`
	Purpose      string     `db:"purpose"`
	SecretDigest string     `db:"secret_digest"`
	UserAgent    *string    `db:"user_agent"`
	IPAddress    *string    `db:"ip_address"`
	DeviceLabel  string     `db:"device_label"`
	ExpiresAt    time.Time  `db:"expires_at"`
	Revoked      bool       `db:"revoked"`
	RevokedAt    *time.Time `db:"revoked_at"`
	RevokeReason *string    `db:"revoke_reason"`
	FamilyID     *string    `db:"family_id"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (r *credentialRow) toCredential() *Credential {
	return &Credential{
		ID:           r.ID,
		PrincipalID:  r.PrincipalID,
		Purpose:      Purpose(r.Purpose),
		SecretDigest: r.SecretDigest,
		Device: DeviceInfo{
			UserAgent: r.UserAgent,
			IP:        r.IPAddress,
			Label:     r.DeviceLabel,
		},
		ExpiresAt:    r.ExpiresAt,
		Revoked:      r.Revoked,
		RevokedAt:    r.RevokedAt,
		RevokeReason: r.RevokeReason,
		FamilyID:     r.FamilyID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const selectColumns = `
	id, principal_id, purpose, secret_digest, user_agent, ip_address,
	device_label, expires_at, revoked, revoked_at, revoke_reason, family_id,
	created_at, updated_at`

const insertQuery = `
	INSERT INTO credentials (
		id, principal_id, purpose, secret_digest, user_agent, ip_address,
		device_label, expires_at, family_id, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10
	)`

func insert(ctx context.Context, db sqlx.ExecerContext, c *Credential) error {
	_, err := db.ExecContext(ctx, insertQuery,
		c.ID,
		c.PrincipalID,
		string(c.Purpose),
		c.SecretDigest,
		c.Device.UserAgent,
		c.Device.IP,
		c.Device.Label,
		c.ExpiresAt,
		c.FamilyID,
		c.CreatedAt,
	)
	if err != nil {
		if core.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert credential: %w", ErrDuplicateDigest)
		}
		return unavailable("insert credential", err)
	}

	return nil
}

func (s *PostgresStore) Put(ctx context.Context, c *Credential) error {
	return insert(ctx, s.db, c)
}

func (s *PostgresStore) FindByDigest(
	ctx context.Context,
	digest string,
) (*Credential, error) {
	query := `SELECT ` + selectColumns + `
		FROM credentials
		WHERE secret_digest = $1`

	var row credentialRow
	err := s.db.GetContext(ctx, &row, query, digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find credential: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("find credential", err)
	}

	return row.toCredential(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete credential", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("delete credential", err)
	}

	if rows == 0 {
		return fmt.Errorf("delete credential: %w", core.ErrNotFound)
	}

	return nil
}

func (s *PostgresStore) UpdateMany(
	ctx context.Context,
	f Filter,
	p Patch,
) (int64, error) {
	if f.empty() {
		return 0, fmt.Errorf("update credentials: empty filter: %w", ErrInvalidOptions)
	}

	where, args := buildWhere(f, 3)
	query := `
		UPDATE credentials
		SET revoked = TRUE,
			revoked_at = COALESCE(revoked_at, $1),
			revoke_reason = COALESCE(revoke_reason, $2),
			updated_at = $1
		WHERE ` + where

	args = append([]any{p.RevokedAt, nullIfEmpty(p.Reason)}, args...)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable("update credentials", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("update credentials", err)
	}

	return rows, nil
}

func buildWhere(f Filter, start int) (string, []any) {
	var (
		conds []string
		args  []any
	)

	add := func(column string, value any) {
		conds = append(conds, column+" = $"+strconv.Itoa(start+len(args)))
		args = append(args, value)
	}

	if f.ID != "" {
		add("id", f.ID)
	}
	if f.Digest != "" {
		add("secret_digest", f.Digest)
	}
	if f.FamilyID != "" {
		add("family_id", f.FamilyID)
	}
	if f.PrincipalID != "" {
		add("principal_id", f.PrincipalID)
	}
	if f.OnlyUnrevoked {
		conds = append(conds, "revoked = FALSE")
	}

	return strings.Join(conds, " AND "), args
}

func (s *PostgresStore) ListActive(
	ctx context.Context,
	principalID string,
	now time.Time,
) ([]Credential, error) {
	query := `SELECT ` + selectColumns + `
		FROM credentials
		WHERE principal_id = $1
			AND revoked = FALSE
			AND expires_at > $2
		ORDER BY created_at DESC, id DESC`

	var rows []credentialRow
	if err := s.db.SelectContext(ctx, &rows, query, principalID, now); err != nil {
		return nil, unavailable("list active credentials", err)
	}

	out := make([]Credential, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toCredential())
	}

	return out, nil
}

func (s *PostgresStore) Swap(
	ctx context.Context,
	oldID string,
	next *Credential,
	p Patch,
) error {
	err := core.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE credentials
			SET revoked = TRUE,
				revoked_at = $2,
				revoke_reason = $3,
				updated_at = $2
			WHERE id = $1 AND revoked = FALSE`,
			oldID, p.RevokedAt, nullIfEmpty(p.Reason),
		)
		if err != nil {
			return unavailable("revoke rotated credential", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return unavailable("revoke rotated credential", err)
		}
		if rows == 0 {
			return fmt.Errorf("swap credential: %w", ErrStaleRecord)
		}

		return insert(ctx, tx, next)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrStaleRecord) ||
		errors.Is(err, ErrDuplicateDigest) ||
		errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	return unavailable("swap credential", err)
}

func (s *PostgresStore) DeleteExpired(
	ctx context.Context,
	before time.Time,
) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE expires_at < $1`, before)
	if err != nil {
		return 0, unavailable("delete expired credentials", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("delete expired credentials", err)
	}

	return rows, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
