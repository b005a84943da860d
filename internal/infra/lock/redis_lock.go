// Package lock implements domain.Locker on Redis.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: logger.With(slog.String("component", "redis_locker")),
	}
}

// TryLock takes key for ttl and keeps extending it every ttl/3 until unlock is
// called or ctx is done. A holder that dies stops renewing and the key
// expires after at most ttl.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	renewed := make(chan struct{})
	if ttl > 0 {
		go l.renew(renewCtx, key, token, ttl, renewed)
	} else {
		close(renewed)
	}

	unlock := func(ctx context.Context) error {
		stopRenew()
		<-renewed

		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}

func (l *RedisLocker) renew(ctx context.Context, key, token string, ttl time.Duration, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("Error renewing lock", "key", key, "error", err)
			continue
		}
		if n == 0 {
			l.logger.Error("Lock lost before release", "key", key)
			return
		}
	}
}
