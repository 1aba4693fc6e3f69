// AngelaMos | 2026
// store_test.go

package credential

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

var recordSeq atomic.Int64

func newRecord(principalID string, purpose Purpose, expiresAt time.Time) *Credential {
	n := recordSeq.Add(1)
	created := expiresAt.Add(-time.Hour).Truncate(time.Microsecond)

	c := &Credential{
		ID:           fmt.Sprintf("rec-%06d", n),
		PrincipalID:  principalID,
		Purpose:      purpose,
		SecretDigest: core.HashToken(fmt.Sprintf("secret-%d", n)),
		Device:       NewDeviceInfo("test-agent", "198.51.100.4"),
		ExpiresAt:    expiresAt.Truncate(time.Microsecond),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if purpose == PurposeRefresh {
		family := fmt.Sprintf("fam-%06d", n)
		c.FamilyID = &family
	}
	return c
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("find returns expired and revoked rows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		expired := newRecord("p-find", PurposeRefresh, now.Add(-time.Minute))
		require.NoError(t, s.Put(ctx, expired))

		got, err := s.FindByDigest(ctx, expired.SecretDigest)
		require.NoError(t, err)
		assert.Equal(t, expired.ID, got.ID)
		assert.True(t, got.IsExpiredAt(now))
		assert.Equal(t, expired.Device.Label, got.Device.Label)

		_, err = s.FindByDigest(ctx, core.HashToken("absent"))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("duplicate digest rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := newRecord("p-dup", PurposeRefresh, now.Add(time.Hour))
		require.NoError(t, s.Put(ctx, a))

		b := newRecord("p-dup", PurposeRefresh, now.Add(time.Hour))
		b.SecretDigest = a.SecretDigest
		assert.ErrorIs(t, s.Put(ctx, b), ErrDuplicateDigest)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := newRecord("p-del", PurposeEmailVerify, now.Add(time.Hour))
		require.NoError(t, s.Put(ctx, c))
		require.NoError(t, s.Delete(ctx, c.ID))
		assert.ErrorIs(t, s.Delete(ctx, c.ID), core.ErrNotFound)

		_, err := s.FindByDigest(ctx, c.SecretDigest)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("update many keeps first revocation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := newRecord("p-upd", PurposeRefresh, now.Add(time.Hour))
		require.NoError(t, s.Put(ctx, c))

		n, err := s.UpdateMany(ctx, Filter{FamilyID: c.Family()}, Patch{
			RevokedAt: now,
			Reason:    ReasonLogout,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.UpdateMany(ctx, Filter{FamilyID: c.Family()}, Patch{
			RevokedAt: now.Add(time.Minute),
			Reason:    ReasonReuseDetected,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.UpdateMany(ctx,
			Filter{FamilyID: c.Family(), OnlyUnrevoked: true},
			Patch{RevokedAt: now},
		)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.FindByDigest(ctx, c.SecretDigest)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, now.Equal(*got.RevokedAt))
		require.NotNil(t, got.RevokeReason)
		assert.Equal(t, ReasonLogout, *got.RevokeReason)

		_, err = s.UpdateMany(ctx, Filter{OnlyUnrevoked: true}, Patch{RevokedAt: now})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("list active newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := newRecord("p-list", PurposeRefresh, now.Add(time.Hour))
		fresh := newRecord("p-list", PurposeRefresh, now.Add(2*time.Hour))
		dead := newRecord("p-list", PurposeRefresh, now.Add(-time.Second))
		revoked := newRecord("p-list", PurposeRefresh, now.Add(3*time.Hour))
		other := newRecord("p-other", PurposeRefresh, now.Add(time.Hour))

		for _, c := range []*Credential{old, fresh, dead, revoked, other} {
			require.NoError(t, s.Put(ctx, c))
		}
		_, err := s.UpdateMany(ctx, Filter{ID: revoked.ID}, Patch{RevokedAt: now})
		require.NoError(t, err)

		live, err := s.ListActive(ctx, "p-list", now)
		require.NoError(t, err)
		require.Len(t, live, 2)
		assert.Equal(t, fresh.ID, live[0].ID)
		assert.Equal(t, old.ID, live[1].ID)
	})

	t.Run("swap is single winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := newRecord("p-swap", PurposeRefresh, now.Add(time.Hour))
		require.NoError(t, s.Put(ctx, old))

		const racers = 6
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range racers {
			next := newRecord("p-swap", PurposeRefresh, now.Add(time.Hour))
			next.FamilyID = old.FamilyID

			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Swap(ctx, old.ID, next, Patch{RevokedAt: now, Reason: ReasonRotated})
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrStaleRecord)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())

		live, err := s.ListActive(ctx, "p-swap", now)
		require.NoError(t, err)
		assert.Len(t, live, 1)
	})

	t.Run("swap inserts nothing on duplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := newRecord("p-swapdup", PurposeRefresh, now.Add(time.Hour))
		taken := newRecord("p-swapdup", PurposeRefresh, now.Add(time.Hour))
		require.NoError(t, s.Put(ctx, old))
		require.NoError(t, s.Put(ctx, taken))

		next := newRecord("p-swapdup", PurposeRefresh, now.Add(time.Hour))
		next.SecretDigest = taken.SecretDigest
		next.FamilyID = old.FamilyID

		err := s.Swap(ctx, old.ID, next, Patch{RevokedAt: now, Reason: ReasonRotated})
		assert.ErrorIs(t, err, ErrDuplicateDigest)

		got, err := s.FindByDigest(ctx, old.SecretDigest)
		require.NoError(t, err)
		assert.False(t, got.Revoked)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		gone := newRecord("p-reap", PurposeEmailVerify, now.Add(-2*time.Hour))
		kept := newRecord("p-reap", PurposeEmailVerify, now.Add(-time.Minute))
		require.NoError(t, s.Put(ctx, gone))
		require.NoError(t, s.Put(ctx, kept))

		n, err := s.DeleteExpired(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = s.FindByDigest(ctx, gone.SecretDigest)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.FindByDigest(ctx, kept.SecretDigest)
		assert.NoError(t, err)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c := newRecord("p-copy", PurposeRefresh, time.Now().Add(time.Hour))
	require.NoError(t, s.Put(ctx, c))

	c.PrincipalID = "tampered"
	*c.FamilyID = "tampered"

	got, err := s.FindByDigest(ctx, c.SecretDigest)
	require.NoError(t, err)
	assert.Equal(t, "p-copy", got.PrincipalID)
	assert.NotEqual(t, "tampered", got.Family())

	got.Revoked = true
	again, err := s.FindByDigest(ctx, c.SecretDigest)
	require.NoError(t, err)
	assert.False(t, again.Revoked)
}
