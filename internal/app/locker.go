package app

import (
	"context"
	"sync"
	"time"
)

// localLocker is used when no distributed locker is configured. It only
// guards runs within this process.
type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLocker() *localLocker {
	return &localLocker{held: make(map[string]bool)}
}

func (l *localLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}
