//go:build integration

package lock_test

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/infra/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var rdb *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start container: %v", err)
	}

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		log.Fatalf("Failed to get endpoint: %v", err)
	}
	rdb = redis.NewClient(&redis.Options{Addr: addr})

	code := m.Run()

	_ = rdb.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}

	os.Exit(code)
}

func newLocker() *lock.RedisLocker {
	return lock.NewRedisLocker(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedisLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	locker := newLocker()
	key := "test:lock:" + t.Name()

	unlock, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock cannot be taken again")

	require.NoError(t, unlock(ctx))

	unlock, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}

func TestRedisLocker_RenewedWhileHeld(t *testing.T) {
	ctx := context.Background()
	locker := newLocker()
	key := "test:lock:" + t.Name()

	unlock, ok, err := locker.TryLock(ctx, key, 150*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// A run lasting several TTLs keeps the lock.
	time.Sleep(600 * time.Millisecond)

	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "the lock must still be held by the long run")

	pttl, err := rdb.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Positive(t, pttl)

	require.NoError(t, unlock(ctx))

	unlock, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, unlock(ctx))
}

func TestRedisLocker_ExpiresWhenHolderStops(t *testing.T) {
	locker := newLocker()
	key := "test:lock:" + t.Name()

	holderCtx, cancel := context.WithCancel(context.Background())
	_, ok, err := locker.TryLock(holderCtx, key, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	cancel()

	require.Eventually(t, func() bool {
		_, ok, err := locker.TryLock(context.Background(), key, time.Minute)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRedisLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	locker := newLocker()
	key := "test:lock:" + t.Name()

	holderCtx, cancel := context.WithCancel(ctx)
	staleUnlock, ok, err := locker.TryLock(holderCtx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	cancel()

	time.Sleep(150 * time.Millisecond)

	unlock, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleUnlock(ctx))

	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "releasing an expired lock must not free the new owner's lock")
	require.NoError(t, unlock(ctx))
}
