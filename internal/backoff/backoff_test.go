package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayExponentialGrowth(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
		Jitter:       false,
	}

	assert.Equal(t, 100*time.Millisecond, Delay(0, cfg))
	assert.Equal(t, 200*time.Millisecond, Delay(1, cfg))
	assert.Equal(t, 400*time.Millisecond, Delay(2, cfg))
	assert.Equal(t, 800*time.Millisecond, Delay(3, cfg))
}

func TestDelayRespectsCap(t *testing.T) {
	cfg := Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   3.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}

	assert.Equal(t, 1*time.Second, Delay(0, cfg))
	assert.Equal(t, 3*time.Second, Delay(1, cfg))
	// 9s exceeds the cap
	assert.Equal(t, 5*time.Second, Delay(2, cfg))
	assert.Equal(t, 5*time.Second, Delay(10, cfg))
}

func TestDelayZeroCapMeansUncapped(t *testing.T) {
	cfg := Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     0,
		Jitter:       false,
	}

	assert.Equal(t, 1024*time.Second, Delay(10, cfg))
}

func TestDelayNegativeAttemptClamped(t *testing.T) {
	cfg := Config{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	assert.Equal(t, Delay(0, cfg), Delay(-3, cfg))
}

func TestDelaySubUnityMultiplierTreatedAsConstant(t *testing.T) {
	cfg := Config{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   0.5,
		Jitter:       false,
	}

	assert.Equal(t, 500*time.Millisecond, Delay(0, cfg))
	assert.Equal(t, 500*time.Millisecond, Delay(5, cfg))
}

func TestDelayJitterStaysInBand(t *testing.T) {
	cfg := Config{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}

	for attempt := 0; attempt < 4; attempt++ {
		noJitter := cfg
		noJitter.Jitter = false
		base := Delay(attempt, noJitter)

		lower := time.Duration(float64(base) * 0.75)
		upper := time.Duration(float64(base) * 1.25)

		for i := 0; i < 200; i++ {
			d := Delay(attempt, cfg)
			assert.GreaterOrEqual(t, d, lower,
				"attempt %d sample %d below jitter band", attempt, i)
			assert.LessOrEqual(t, d, upper,
				"attempt %d sample %d above jitter band", attempt, i)
		}
	}
}
