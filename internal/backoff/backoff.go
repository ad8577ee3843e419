// Package backoff computes retry delays using capped exponential growth
// with optional jitter. It is a pure calculation with no timers or side
// effects, so callers decide how the delay is actually applied.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config holds the parameters of an exponential backoff schedule.
type Config struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// Multiplier is the factor applied for each subsequent attempt.
	// Values below 1 are treated as 1 (constant delay).
	Multiplier float64

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter, when enabled, spreads the returned delay uniformly across
	// [0.75*base, 1.25*base] to avoid synchronized retry storms.
	Jitter bool
}

// DefaultConfig returns a schedule suitable for transient network failures.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Delay returns the wait before the (attempt+1)-th retry. The attempt index
// is zero-based: Delay(0, cfg) is the delay after the first failure.
//
// The base delay is min(InitialDelay * Multiplier^attempt, MaxDelay). With
// jitter disabled the base is returned exactly.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	base := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}

	if !cfg.Jitter {
		return time.Duration(base)
	}

	// Uniform in [0.75*base, 1.25*base].
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(base * factor)
}
