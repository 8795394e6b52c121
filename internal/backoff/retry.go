package backoff

import (
	"context"
	"fmt"
	"time"
)

// Result holds the outcome of a retried operation.
type Result[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// RetryHook observes a failed attempt before the next one is scheduled.
type RetryHook func(attempt int, err error, delay time.Duration)

// Retry calls fn up to maxAttempts times, sleeping between attempts
// according to the policy. A maxAttempts below 1 is treated as 1.
//
// Retries never outlive ctx: if the next delay would cross the context
// deadline, Retry gives up immediately with the last error instead of
// sleeping into a timeout.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(ctx context.Context, attempt int) (T, error),
	onRetry RetryHook,
) (Result[T], error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var result Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		value, err := fn(ctx, attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := policy.Delay(attempt)
		if !fitsDeadline(ctx, delay) {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		if !wait(ctx, delay) {
			break
		}
	}

	if result.Attempts > 1 {
		return result, fmt.Errorf("after %d attempts: %w", result.Attempts, result.LastError)
	}
	return result, result.LastError
}

// wait blocks for d or until ctx is done, reporting whether the full
// delay elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// fitsDeadline reports whether waiting d still leaves time before the
// context deadline.
func fitsDeadline(ctx context.Context, d time.Duration) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > d
}
