package lifecycle_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
)

func TestBackoffDoublesUntilCapped(t *testing.T) {
	cfg := lifecycle.BackoffConfig{Base: time.Second, Max: time.Hour, Jitter: 0}
	rng := rand.New(rand.NewSource(1))

	require.Equal(t, time.Second, cfg.NextAttemptDelay(0, rng))
	require.Equal(t, 2*time.Second, cfg.NextAttemptDelay(1, rng))
	require.Equal(t, 4*time.Second, cfg.NextAttemptDelay(2, rng))
	require.Equal(t, time.Hour, cfg.NextAttemptDelay(20, rng), "must clamp to Max once the doubling exceeds it")
}

func TestBackoffJitterStaysWithinBound(t *testing.T) {
	cfg := lifecycle.BackoffConfig{Base: time.Minute, Max: time.Hour, Jitter: 0.2}
	rng := rand.New(rand.NewSource(42))

	for attempt := 0; attempt < 5; attempt++ {
		base := time.Duration(float64(cfg.Base) * pow2(attempt))
		if base > cfg.Max {
			base = cfg.Max
		}
		lower := time.Duration(float64(base) * 0.8)
		upper := time.Duration(float64(base) * 1.2)
		got := cfg.NextAttemptDelay(attempt, rng)
		require.GreaterOrEqual(t, got, lower)
		require.LessOrEqual(t, got, upper)
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
