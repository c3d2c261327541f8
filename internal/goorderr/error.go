package goorderr

import (
	"fmt"
	"time"
)

// RetryableError wraps an error of an operation that failed temporarily and
// can be executed again.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earlierst point in time that the opertion can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}

// RateLimitError is returned when the API quota is exhausted.
// Operations must not be retried before Reset, callers are expected to stop
// issuing further requests instead of waiting.
type RateLimitError struct {
	Err   error
	Reset time.Time
}

func NewRateLimitError(originalErr error, reset time.Time) *RateLimitError {
	return &RateLimitError{
		Err:   originalErr,
		Reset: reset,
	}
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("rate limit exceeded: %s", e.Err)
	}

	return fmt.Sprintf("rate limit exceeded (resets at %s): %s", e.Reset, e.Err)
}
