package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotstack/jotstack/internal/backoff"
)

var errTransient = errors.New("transient failure")
var errPermanent = errors.New("permanent failure")

func fastBackoff() backoff.Config {
	return backoff.Config{
		InitialDelay: 20 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     1 * time.Second,
		Jitter:       false,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, Options{MaxAttempts: 3, Backoff: fastBackoff()})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	start := time.Now()

	result, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	}, Options{MaxAttempts: 3, Backoff: fastBackoff()})

	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
	// Two delays: 20ms + 40ms. Allow generous scheduling slack above,
	// but the floor proves both waits actually happened.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	start := time.Now()

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, Options{MaxAttempts: 3, Backoff: fastBackoff()})

	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	// Exactly two delays were waited; the final failure returns immediately.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestDoNonRetryableFailsFast(t *testing.T) {
	calls := 0
	start := time.Now()

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errPermanent
	}, Options{
		MaxAttempts: 5,
		Backoff:     backoff.Config{InitialDelay: 2 * time.Second, Multiplier: 2},
		IsRetryable: func(err error) bool { return errors.Is(err, errTransient) },
	})

	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
	// No delay may be applied on the non-retryable path.
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestDoInvokesOnRetryWithFailureCount(t *testing.T) {
	var attempts []int
	calls := 0

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, Options{
		MaxAttempts: 3,
		Backoff:     backoff.Config{InitialDelay: time.Millisecond, Multiplier: 1},
		OnRetry: func(err error, attempt int) {
			assert.ErrorIs(t, err, errTransient)
			attempts = append(attempts, attempt)
		},
	})

	assert.ErrorIs(t, err, errTransient)
	// OnRetry fires before each retry, not after the final failure.
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoHonorsContextCancellationDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, Options{
		MaxAttempts: 5,
		Backoff:     backoff.Config{InitialDelay: 10 * time.Second, Multiplier: 2},
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoSingleAttemptFloor(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, Options{MaxAttempts: 0, Backoff: fastBackoff()})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
