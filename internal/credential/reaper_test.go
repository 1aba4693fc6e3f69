// AngelaMos | 2026
// reaper_test.go

package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(
	_ context.Context,
	_ string,
	_ time.Duration,
) (bool, func(context.Context), error) {
	if l.err != nil {
		return false, func(context.Context) {}, l.err
	}
	if l.held {
		return false, func(context.Context) {}, nil
	}
	return true, func(context.Context) { l.released++ }, nil
}

func reaperFixture(t *testing.T) (*Reaper, *Engine, *testClock, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	engine, clock, metrics := newTestEngine(t, store)

	reaper := NewReaper(store, nil, config.ReaperConfig{
		Interval: time.Minute,
		Grace:    time.Hour,
		LockTTL:  time.Minute,
	}, nil, metrics)
	reaper.now = clock.Now

	return reaper, engine, clock, store
}

func TestReaper_RemovesOnlyPastGrace(t *testing.T) {
	reaper, engine, clock, _ := reaperFixture(t)
	ctx := context.Background()

	_, shortRaw, err := engine.Create(ctx, "u1", CreateOptions{
		Purpose: PurposeEmailVerify,
		TTL:     10 * time.Minute,
	})
	require.NoError(t, err)
	_, longRaw := login(t, engine, "u1")

	clock.Advance(30 * time.Minute)

	n, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = engine.Verify(ctx, shortRaw, PurposeEmailVerify)
	assert.ErrorIs(t, err, ErrCredentialExpired)

	clock.Advance(time.Hour)

	n, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = engine.Verify(ctx, shortRaw, PurposeEmailVerify)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	_, err = engine.Verify(ctx, longRaw, PurposeRefresh)
	assert.NoError(t, err)
}

func TestReaper_SkipsWhenLockHeld(t *testing.T) {
	reaper, engine, clock, _ := reaperFixture(t)
	ctx := context.Background()

	_, _, err := engine.Create(ctx, "u1", CreateOptions{Purpose: PurposeEmailVerify})
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	locker := &fakeLocker{held: true}
	reaper.locker = locker

	n, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	locker.held = false
	n, err = reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, locker.released)

	locker.err = errors.New("redis down")
	_, err = reaper.RunOnce(ctx)
	assert.Error(t, err)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	reaper, _, _, _ := reaperFixture(t)
	reaper.cfg.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}
