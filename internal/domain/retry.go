package domain

import "time"

const (
	DefaultMaxRetryAttempts = 3
	DefaultRetryDelay       = 60 * time.Second
)

// RetryPolicy bounds the scheduled retries of a message. Backoff is linear:
// the k-th failure waits Delay*k before the message is eligible again.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxRetryAttempts,
		Delay:       DefaultRetryDelay,
	}
}

func (p RetryPolicy) NextAttemptAt(failedAt time.Time, retryCount int) time.Time {
	return failedAt.Add(p.Delay * time.Duration(retryCount))
}

// Eligible mirrors the store's eligibility query.
func (p RetryPolicy) Eligible(m Message, now time.Time) bool {
	if m.Sent() || m.RetryCount >= p.MaxAttempts {
		return false
	}
	return !m.NextRetryAt.Valid || !m.NextRetryAt.Time.After(now)
}
