package queue

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy is an exponential backoff capped at MaxDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// CalculateDelay returns the wait before the given attempt.
func (rp RetryPolicy) CalculateDelay(attempt int) time.Duration {
	d := rp.BaseDelay * time.Duration(1<<uint(attempt))
	if rp.MaxDelay > 0 && d > rp.MaxDelay {
		return rp.MaxDelay
	}
	return d
}

// ShouldRetry decides whether err deserves another attempt. Errors that do
// not implement RetryableError are assumed transient. Once ctx is done only
// a single extra attempt is allowed.
func ShouldRetry(ctx context.Context, err error, attempts int, maxTries int) bool {
	var retryable RetryableError
	isRetryableType := errors.As(err, &retryable)

	if ctx.Err() != nil {
		if isRetryableType && !retryable.IsRetryable() {
			return false
		}
		return attempts < 2 && !errors.Is(err, ErrCircuitBreakerOpen)
	}

	if isRetryableType {
		return retryable.IsRetryable()
	}
	return true
}
