// AngelaMos | 2026
// redis.go

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
)

type Redis struct {
	Client *redis.Client
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.PoolTimeout = 30 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // cleanup on connection failure
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{Client: client}, nil
}

func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.Client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}

func (r *Redis) PoolStats() *redis.PoolStats {
	return r.Client.PoolStats()
}

// unlockScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryLock takes a best-effort lease on key for ttl. The returned release func
// is a no-op when the lock was not acquired.
func (r *Redis) TryLock(
	ctx context.Context,
	key string,
	ttl time.Duration,
) (bool, func(context.Context), error) {
	token, err := GenerateSecret(16)
	if err != nil {
		return false, func(context.Context) {}, err
	}

	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, func(context.Context) {}, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, func(context.Context) {}, nil
	}

	release := func(ctx context.Context) {
		//nolint:errcheck // lease expires on its own if this fails
		_ = unlockScript.Run(ctx, r.Client, []string{key}, token).Err()
	}

	return true, release, nil
}
