package engine

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of throttled and transient destination
// failures. The delay doubles on every attempt unless the server supplied
// a Retry-After hint, which always wins.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, the first included.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the configured defaults: three attempts
// starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (0-based, i.e.
// the delay after the attempt-th failed call). A non-zero server hint
// overrides the doubling schedule.
func (p RetryPolicy) Backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay
}

// systemClock is the production Clock backed by the runtime.
type systemClock struct{}

// SystemClock returns a Clock backed by time.Now and time.After.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
