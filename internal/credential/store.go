// AngelaMos | 2026
// store.go

package credential

import (
	"context"
	"time"
)

// Store is the persistence contract for credential records. It holds no
// business rules: FindByDigest returns expired and revoked rows as-is so the
// engine can tell the cases apart.
//
// Implementations return core.ErrNotFound for absent rows, ErrDuplicateDigest
// on digest collisions, ErrStaleRecord when Swap loses a race and wrap every
// other failure in ErrStoreUnavailable.
type Store interface {
	Put(ctx context.Context, c *Credential) error
	FindByDigest(ctx context.Context, digest string) (*Credential, error)
	Delete(ctx context.Context, id string) error
	UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error)
	ListActive(
		ctx context.Context,
		principalID string,
		now time.Time,
	) ([]Credential, error)

	// Swap revokes oldID and inserts next as one atomic step. It fails with
	// ErrStaleRecord, and inserts nothing, when oldID is already revoked.
	Swap(ctx context.Context, oldID string, next *Credential, p Patch) error

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Filter selects records for UpdateMany. At least one of ID, Digest,
// FamilyID or PrincipalID must be set; set fields are ANDed.
type Filter struct {
	ID            string
	Digest        string
	FamilyID      string
	PrincipalID   string
	OnlyUnrevoked bool
}

func (f Filter) empty() bool {
	return f.ID == "" && f.Digest == "" && f.FamilyID == "" && f.PrincipalID == ""
}

func (f Filter) matches(c *Credential) bool {
	if f.ID != "" && c.ID != f.ID {
		return false
	}
	if f.Digest != "" && c.SecretDigest != f.Digest {
		return false
	}
	if f.FamilyID != "" && c.Family() != f.FamilyID {
		return false
	}
	if f.PrincipalID != "" && c.PrincipalID != f.PrincipalID {
		return false
	}
	if f.OnlyUnrevoked && c.Revoked {
		return false
	}
	return true
}

// Patch is the only mutation the store supports on existing rows: marking
// them revoked.
type Patch struct {
	RevokedAt time.Time
	Reason    string
}

func (p Patch) apply(c *Credential) {
	at := p.RevokedAt
	reason := p.Reason

	c.Revoked = true
	if c.RevokedAt == nil {
		c.RevokedAt = &at
	}
	if c.RevokeReason == nil && reason != "" {
		c.RevokeReason = &reason
	}
	c.UpdatedAt = at
}
