package primitives

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerKeyRateLimiter_IndependentBuckets(t *testing.T) {
	l := NewPerKeyRateLimiter[string](PerKeyRateLimiterConfig{
		Capacity:        1,
		RefillPerSecond: 0.001,
		StaleAfter:      time.Hour,
	})

	require.NoError(t, l.Take(context.Background(), "a", 1))
	require.NoError(t, l.Take(context.Background(), "b", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Take(ctx, "a", 1), ErrCancelled)
}

func TestPerKeyRateLimiter_EvictsStaleKeysByCallCount(t *testing.T) {
	fake := time.Now()
	l := NewPerKeyRateLimiter[string](PerKeyRateLimiterConfig{
		Capacity:        5,
		RefillPerSecond: 1,
		StaleAfter:      time.Minute,
		SweepInterval:   2,
	})
	l.now = func() time.Time { return fake }

	require.NoError(t, l.Take(context.Background(), "stale-key", 1))
	assert.Equal(t, 1, l.Size())

	fake = fake.Add(30 * time.Second)
	require.NoError(t, l.Take(context.Background(), "fresh-key", 1))
	require.NoError(t, l.Take(context.Background(), "fresh-key", 1))
	assert.Equal(t, 2, l.Size())

	// 40s after the last sweep: only the call-count trigger fires.
	fake = fake.Add(40 * time.Second)
	require.NoError(t, l.Take(context.Background(), "fresh-key", 1))
	require.NoError(t, l.Take(context.Background(), "fresh-key", 1))

	assert.Equal(t, 1, l.Size())
}

func TestPerKeyRateLimiter_TimeBasedSweepEvenWithoutCallVolume(t *testing.T) {
	fake := time.Now()
	l := NewPerKeyRateLimiter[string](PerKeyRateLimiterConfig{
		Capacity:        5,
		RefillPerSecond: 1,
		StaleAfter:      time.Minute,
		SweepInterval:   1000,
	})
	l.now = func() time.Time { return fake }

	require.NoError(t, l.Take(context.Background(), "stale-key", 1))

	fake = fake.Add(2 * time.Minute)
	require.NoError(t, l.Take(context.Background(), "fresh-key", 1))

	assert.Equal(t, 1, l.Size())
}
