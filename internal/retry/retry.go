// Package retry provides a generic retry primitive for operations that may
// fail transiently. It knows nothing about jobs, queues, or pipelines; it
// operates purely on a caller-supplied function and an error classifier.
package retry

import (
	"context"
	"time"

	"github.com/jotstack/jotstack/internal/backoff"
)

// Options controls how Do retries a failing operation.
type Options struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff configures the delay schedule between attempts.
	Backoff backoff.Config

	// IsRetryable classifies an error as transient. When it returns false
	// the error propagates immediately with no delay and no further
	// attempts. A nil classifier treats every error as retryable.
	IsRetryable func(error) bool

	// OnRetry, if set, is invoked before each retry with the error that
	// triggered it and the 1-based number of failures so far.
	OnRetry func(err error, attempt int)
}

// Do invokes op until it succeeds, fails with a non-retryable error, or
// exhausts MaxAttempts. The delay before the n-th retry follows the backoff
// schedule with zero-based attempt index n-1. The last error is returned
// unmodified so callers can inspect it with errors.Is.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	isRetryable := opts.IsRetryable
	if isRetryable == nil {
		isRetryable = func(error) bool { return true }
	}

	var lastErr error
	for failures := 0; failures < maxAttempts; {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !isRetryable(err) {
			return zero, err
		}

		failures++
		lastErr = err
		if failures >= maxAttempts {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(err, failures)
		}

		delay := backoff.Delay(failures-1, opts.Backoff)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}
