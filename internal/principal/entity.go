// AngelaMos | 2026
// entity.go

package principal

import (
	"strings"
	"time"
)

type Principal struct {
	ID            string     `db:"id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	DisplayName   string     `db:"display_name"`
	EmailVerified bool       `db:"email_verified"`
	VerifiedAt    *time.Time `db:"verified_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Schema is applied alongside the credential schema at startup.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS principals (
		id             TEXT PRIMARY KEY,
		email          TEXT        NOT NULL UNIQUE,
		password_hash  TEXT        NOT NULL,
		display_name   TEXT        NOT NULL,
		email_verified BOOLEAN     NOT NULL DEFAULT FALSE,
		verified_at    TIMESTAMPTZ NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
