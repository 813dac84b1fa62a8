package outbox

import (
	"context"
	"time"
)

// RetryPolicy retries a call up to Attempts times, sleeping
// BaseDelay * 2^n after the n-th failure (n from 0).
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetry is 3 attempts with 500ms and 1s between them.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Do calls fn until it succeeds, the attempts run out, or ctx ends. It
// returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 0; n < attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if n == attempts-1 {
			break
		}
		timer := time.NewTimer(p.BaseDelay << n)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
