// AngelaMos | 2026
// schema.go

package credential

// Schema is applied statement by statement at startup when
// store.auto_migrate is on.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id             TEXT PRIMARY KEY,
		principal_id   TEXT        NOT NULL,
		purpose        TEXT        NOT NULL
			CHECK (purpose IN ('EMAIL_VERIFY', 'REFRESH', 'RESET_PASSWORD')),
		secret_digest  TEXT        NOT NULL UNIQUE,
		user_agent     TEXT        NULL,
		ip_address     TEXT        NULL,
		device_label   TEXT        NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		revoked        BOOLEAN     NOT NULL DEFAULT FALSE,
		revoked_at     TIMESTAMPTZ NULL,
		revoke_reason  TEXT        NULL,
		family_id      TEXT        NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((purpose = 'REFRESH') = (family_id IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS credentials_principal_live_idx
		ON credentials (principal_id, created_at DESC)
		WHERE revoked = FALSE`,
	`CREATE INDEX IF NOT EXISTS credentials_family_idx
		ON credentials (family_id, revoked)
		WHERE family_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS credentials_expires_at_idx
		ON credentials (expires_at)`,
}
