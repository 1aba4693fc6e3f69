// AngelaMos | 2026
// engine_test.go

package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCredentialConfig() config.CredentialConfig {
	return config.CredentialConfig{
		RefreshTTL:     7 * 24 * time.Hour,
		EmailVerifyTTL: 15 * time.Minute,
		ResetTTL:       30 * time.Minute,
		SecretBytes:    32,
	}
}

func newTestEngine(t *testing.T, store Store) (*Engine, *testClock, *Metrics) {
	t.Helper()

	clock := newTestClock()
	metrics := NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(store, testCredentialConfig(),
		WithClock(clock.Now),
		WithMetrics(metrics),
	)

	return engine, clock, metrics
}

func login(t *testing.T, e *Engine, principalID string) (*Credential, string) {
	t.Helper()

	c, raw, err := e.Create(context.Background(), principalID, CreateOptions{
		Purpose: PurposeRefresh,
		Device:  NewDeviceInfo("Mozilla/5.0 (X11; Linux x86_64)", "203.0.113.7"),
	})
	require.NoError(t, err)

	return c, raw
}

func TestCreate_PersistsDigestOnly(t *testing.T) {
	store := NewMemoryStore()
	engine, clock, _ := newTestEngine(t, store)
	ctx := context.Background()

	c, raw, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeRefresh})
	require.NoError(t, err)

	assert.Equal(t, core.HashToken(raw), c.SecretDigest)
	assert.NotEqual(t, raw, c.SecretDigest)
	assert.NotEmpty(t, c.ID)
	require.NotNil(t, c.FamilyID)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), c.ExpiresAt)
	assert.Equal(t, unknownDevice, c.Device.Label)

	stored, err := store.FindByDigest(ctx, c.SecretDigest)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.NotContains(t, stored.SecretDigest, raw)

	_, err = store.FindByDigest(ctx, raw)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreate_UniqueSecrets(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())

	seen := make(map[string]struct{})
	for range 50 {
		_, raw := login(t, engine, "u1")
		_, dup := seen[raw]
		require.False(t, dup)
		seen[raw] = struct{}{}
	}
}

func TestCreate_RejectsInvalidOptions(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	family := "f1"

	tests := []struct {
		name        string
		principalID string
		opts        CreateOptions
	}{
		{
			name:        "missing principal",
			principalID: "",
			opts:        CreateOptions{Purpose: PurposeRefresh},
		},
		{
			name:        "unknown purpose",
			principalID: "u1",
			opts:        CreateOptions{Purpose: Purpose("SOMETHING")},
		},
		{
			name:        "family on email verification",
			principalID: "u1",
			opts:        CreateOptions{Purpose: PurposeEmailVerify, FamilyID: &family},
		},
		{
			name:        "negative ttl",
			principalID: "u1",
			opts:        CreateOptions{Purpose: PurposeRefresh, TTL: -time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, raw, err := engine.Create(context.Background(), tt.principalID, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
			assert.Empty(t, raw)
		})
	}
}

func TestCreate_NonRefreshHasNoFamily(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())

	c, _, err := engine.Create(context.Background(), "u1", CreateOptions{
		Purpose: PurposeResetPassword,
	})
	require.NoError(t, err)
	assert.Nil(t, c.FamilyID)
}

func TestVerify_NeverIssued(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	login(t, engine, "u1")

	purposes := []Purpose{
		PurposeAny,
		PurposeRefresh,
		PurposeEmailVerify,
		PurposeResetPassword,
	}

	for _, p := range purposes {
		_, err := engine.Verify(context.Background(), "never-issued-secret", p)
		assert.ErrorIs(t, err, ErrCredentialInvalid)
	}

	_, err := engine.Verify(context.Background(), "", PurposeAny)
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestVerify_PurposeMismatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	_, raw := login(t, engine, "u1")

	_, err := engine.Verify(context.Background(), raw, PurposeEmailVerify)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	c, err := engine.Verify(context.Background(), raw, PurposeAny)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.PrincipalID)
}

func TestVerify_EmailVerifyExpires(t *testing.T) {
	engine, clock, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw, err := engine.Create(ctx, "u1", CreateOptions{
		Purpose: PurposeEmailVerify,
		TTL:     15 * time.Minute,
	})
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	_, err = engine.Verify(ctx, raw, PurposeEmailVerify)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerify_ExpiresAtBoundary(t *testing.T) {
	engine, clock, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw, err := engine.Create(ctx, "u1", CreateOptions{
		Purpose: PurposeRefresh,
		TTL:     time.Hour,
	})
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Second)
	_, err = engine.Verify(ctx, raw, PurposeRefresh)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerify_RevokedBeatsExpired(t *testing.T) {
	engine, clock, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw := login(t, engine, "u1")
	require.NoError(t, engine.Revoke(ctx, raw))

	clock.Advance(30 * 24 * time.Hour)

	_, err := engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)
}

func TestRotate_ReplayRevokesFamily(t *testing.T) {
	engine, _, metrics := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	first, secretA := login(t, engine, "u1")

	second, secretB, err := engine.Rotate(ctx, secretA, NewDeviceInfo("curl/8.5", ""))
	require.NoError(t, err)
	assert.NotEqual(t, secretA, secretB)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, *first.FamilyID, *second.FamilyID)
	assert.Equal(t, "curl/8.5", second.Device.Label)

	_, err = engine.Verify(ctx, secretB, PurposeRefresh)
	require.NoError(t, err)

	_, err = engine.Verify(ctx, secretA, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)

	_, err = engine.Verify(ctx, secretB, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)

	_, _, err = engine.Rotate(ctx, secretB, DeviceInfo{})
	assert.ErrorIs(t, err, ErrCredentialReused)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues(eventRotated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues(eventFamilyRevoked)))
}

func TestRotate_ReplayLeavesOtherFamiliesAlone(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, laptop := login(t, engine, "u1")
	_, phone := login(t, engine, "u1")

	_, _, err := engine.Rotate(ctx, laptop, DeviceInfo{})
	require.NoError(t, err)

	_, err = engine.Verify(ctx, laptop, PurposeRefresh)
	require.ErrorIs(t, err, ErrCredentialReused)

	_, err = engine.Verify(ctx, phone, PurposeRefresh)
	assert.NoError(t, err)
}

func TestRotate_RejectsNonRefresh(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeResetPassword})
	require.NoError(t, err)

	_, _, err = engine.Rotate(ctx, raw, DeviceInfo{})
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestRotate_ConcurrentSingleWinner(t *testing.T) {
	for range 20 {
		store := NewMemoryStore()
		engine, clock, _ := newTestEngine(t, store)
		ctx := context.Background()

		first, raw := login(t, engine, "u1")

		const racers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  []error
		)

		start := make(chan struct{})
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _, err := engine.Rotate(ctx, raw, DeviceInfo{})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				failures = append(failures, err)
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, 1, successes)
		require.Len(t, failures, racers-1)
		for _, err := range failures {
			assert.True(t,
				errors.Is(err, ErrCredentialReused) || errors.Is(err, ErrCredentialInvalid),
				"unexpected error: %v", err,
			)
		}

		live, err := store.ListActive(ctx, "u1", clock.Now())
		require.NoError(t, err)
		for _, c := range live {
			assert.NotEqual(t, first.Family(), c.Family(),
				"family must be dead after a lost race")
		}
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw := login(t, engine, "u1")

	require.NoError(t, engine.Revoke(ctx, raw))
	require.NoError(t, engine.Revoke(ctx, raw))
	require.NoError(t, engine.Revoke(ctx, "never-issued"))
	require.NoError(t, engine.Revoke(ctx, ""))

	_, err := engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)
}

func TestRevokeFamilyAndPrincipal(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	c1, raw1 := login(t, engine, "u1")
	_, raw2 := login(t, engine, "u1")
	_, raw3 := login(t, engine, "u2")

	n, err := engine.RevokeFamily(ctx, c1.Family(), ReasonOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = engine.Verify(ctx, raw1, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)
	_, err = engine.Verify(ctx, raw2, PurposeRefresh)
	require.NoError(t, err)

	n, err = engine.RevokeAllForPrincipal(ctx, "u1", ReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = engine.Verify(ctx, raw2, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)
	_, err = engine.Verify(ctx, raw3, PurposeRefresh)
	assert.NoError(t, err)

	_, err = engine.RevokeFamily(ctx, "", ReasonOperator)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = engine.RevokeAllForPrincipal(ctx, "", ReasonOperator)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestConsume_SingleUse(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeEmailVerify})
	require.NoError(t, err)

	_, err = engine.Consume(ctx, raw, PurposeResetPassword)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	c, err := engine.Consume(ctx, raw, PurposeEmailVerify)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.PrincipalID)

	_, err = engine.Consume(ctx, raw, PurposeEmailVerify)
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	_, raw, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeResetPassword})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Consume(ctx, raw, PurposeResetPassword)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrCredentialInvalid)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestActiveSessions(t *testing.T) {
	engine, clock, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	older, _ := login(t, engine, "u1")
	clock.Advance(time.Minute)
	newer, _ := login(t, engine, "u1")
	clock.Advance(time.Minute)
	_, revoked := login(t, engine, "u1")
	login(t, engine, "u2")

	_, _, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeEmailVerify})
	require.NoError(t, err)
	require.NoError(t, engine.Revoke(ctx, revoked))

	sessions, err := engine.ActiveSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", sessions[0].DeviceLabel)
	assert.Equal(t, older.Family(), sessions[1].FamilyID)

	empty, err := engine.ActiveSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRevokeSession_ScopedToOwner(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewMemoryStore())
	ctx := context.Background()

	c, raw := login(t, engine, "u1")

	err := engine.RevokeSession(ctx, "u2", c.ID)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	_, err = engine.Verify(ctx, raw, PurposeRefresh)
	require.NoError(t, err)

	require.NoError(t, engine.RevokeSession(ctx, "u1", c.ID))

	err = engine.RevokeSession(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

type faultyStore struct {
	*MemoryStore
	findErr   error
	updateErr error
	swapErr   error
}

func (s *faultyStore) FindByDigest(ctx context.Context, digest string) (*Credential, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStore.FindByDigest(ctx, digest)
}

func (s *faultyStore) UpdateMany(ctx context.Context, f Filter, p Patch) (int64, error) {
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	return s.MemoryStore.UpdateMany(ctx, f, p)
}

func (s *faultyStore) Swap(ctx context.Context, oldID string, next *Credential, p Patch) error {
	if s.swapErr != nil {
		return s.swapErr
	}
	return s.MemoryStore.Swap(ctx, oldID, next, p)
}

func TestVerify_StoreOutageIsNotAuthFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore()}
	engine, _, _ := newTestEngine(t, store)
	ctx := context.Background()

	_, raw := login(t, engine, "u1")

	store.findErr = unavailable("find credential", errors.New("connection refused"))

	_, err := engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, IsAuthFailure(err))

	_, _, err = engine.Rotate(ctx, raw, DeviceInfo{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRevoke_ReportsStoreOutage(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore()}
	engine, _, _ := newTestEngine(t, store)

	store.updateErr = unavailable("update credentials", errors.New("timeout"))

	err := engine.Revoke(context.Background(), "some-secret")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestVerify_ReuseFailsEvenWhenFamilyRevokeFails(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore()}
	engine, _, metrics := newTestEngine(t, store)
	ctx := context.Background()

	_, raw := login(t, engine, "u1")
	require.NoError(t, engine.Revoke(ctx, raw))

	store.updateErr = unavailable("update credentials", errors.New("timeout"))

	_, err := engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues(eventRevokeFailed)))
}

func TestRotate_StaleSwapTreatedAsReuse(t *testing.T) {
	store := &faultyStore{MemoryStore: NewMemoryStore()}
	engine, _, _ := newTestEngine(t, store)
	ctx := context.Background()

	_, raw := login(t, engine, "u1")
	_, sibling := login(t, engine, "u1")

	store.swapErr = ErrStaleRecord

	_, _, err := engine.Rotate(ctx, raw, DeviceInfo{})
	assert.ErrorIs(t, err, ErrCredentialReused)

	store.swapErr = nil

	_, err = engine.Verify(ctx, raw, PurposeRefresh)
	assert.ErrorIs(t, err, ErrCredentialReused)

	_, err = engine.Verify(ctx, sibling, PurposeRefresh)
	assert.NoError(t, err)
}
