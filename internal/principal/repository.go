// AngelaMos | 2026
// repository.go

package principal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

type Repository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Count(ctx context.Context) (int64, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

const principalColumns = `
	id, email, password_hash, display_name, email_verified, verified_at,
	created_at, updated_at`

func (r *repository) Create(ctx context.Context, p *Principal) error {
	query := `
		INSERT INTO principals (id, email, password_hash, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		p.ID,
		p.Email,
		p.PasswordHash,
		p.DisplayName,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if core.IsDuplicateKeyError(err) {
			return fmt.Errorf("create principal: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create principal: %w", err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	var p Principal
	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get principal: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}

	return &p, nil
}

func (r *repository) GetByEmail(
	ctx context.Context,
	email string,
) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE email = $1`

	var p Principal
	err := r.db.GetContext(ctx, &p, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get principal by email: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get principal by email: %w", err)
	}

	return &p, nil
}

func (r *repository) MarkVerified(
	ctx context.Context,
	id string,
	at time.Time,
) error {
	query := `
		UPDATE principals
		SET email_verified = TRUE,
			verified_at = COALESCE(verified_at, $2),
			updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "mark principal verified", query, id, at)
}

func (r *repository) UpdatePassword(
	ctx context.Context,
	id, passwordHash string,
) error {
	query := `
		UPDATE principals
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "update password", query, id, passwordHash)
}

func (r *repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM principals`); err != nil {
		return 0, fmt.Errorf("count principals: %w", err)
	}
	return n, nil
}

func (r *repository) execOne(
	ctx context.Context,
	op, query string,
	args ...any,
) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rows == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}

	return nil
}
