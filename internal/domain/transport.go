package domain

import (
	"context"
	"time"
)

// Transport delivers one message. Any returned error is a failed attempt.
type Transport interface {
	Send(ctx context.Context, envelope Envelope) error
}

// ReportingTransport signals an ordinary delivery rejection by returning
// false and reserves errors for unexpected faults.
type ReportingTransport interface {
	Transport
	TrySend(ctx context.Context, envelope Envelope) (bool, error)
}

// Locker guards a queue invocation against overlapping runs.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
