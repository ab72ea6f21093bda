package queue

import "errors"

var (
	ErrQueueClosed        = errors.New("queue is closed")
	ErrQueueFull          = errors.New("queue is full")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// RetryableError lets a worker tell the queue whether a failure is worth
// another attempt.
type RetryableError interface {
	error
	IsRetryable() bool
}

// SimpleRetryableError marks an arbitrary error as retryable or not.
type SimpleRetryableError struct {
	err       error
	retryable bool
}

func (e *SimpleRetryableError) Error() string {
	return e.err.Error()
}

func (e *SimpleRetryableError) Unwrap() error {
	return e.err
}

func (e *SimpleRetryableError) IsRetryable() bool {
	return e.retryable
}

func NewRetryableError(err error, retryable bool) *SimpleRetryableError {
	return &SimpleRetryableError{
		err:       err,
		retryable: retryable,
	}
}
