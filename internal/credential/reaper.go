// AngelaMos | 2026
// reaper.go

package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

const reaperLockKey = "credential:reaper:lock"

// Locker coordinates the sweep across instances. core.Redis satisfies it.
type Locker interface {
	TryLock(
		ctx context.Context,
		key string,
		ttl time.Duration,
	) (bool, func(context.Context), error)
}

// Reaper physically removes records that expired more than Grace ago. It only
// reclaims space; no lookup depends on it having run.
type Reaper struct {
	store   Store
	locker  Locker
	cfg     config.ReaperConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func NewReaper(
	store Store,
	locker Locker,
	cfg config.ReaperConfig,
	logger *slog.Logger,
	metrics *Metrics,
) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:   store,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("credential reaper started",
		"interval", r.cfg.Interval.String(),
		"grace", r.cfg.Grace.String(),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("credential reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("credential sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep. It returns zero without error when another
// instance holds the lock.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	if r.locker != nil {
		acquired, release, err := r.locker.TryLock(ctx, reaperLockKey, r.cfg.LockTTL)
		if err != nil {
			return 0, fmt.Errorf("acquire reaper lock: %w", err)
		}
		if !acquired {
			return 0, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	n, err := r.store.DeleteExpired(ctx, r.now().Add(-r.cfg.Grace))
	if err != nil {
		return 0, fmt.Errorf("delete expired credentials: %w", err)
	}

	if n > 0 {
		r.metrics.add(eventReaped, float64(n))
		r.logger.Info("expired credentials reaped", "count", n)
	}

	return n, nil
}
