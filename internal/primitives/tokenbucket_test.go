package primitives

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_TakeWithinCapacity(t *testing.T) {
	b := NewTokenBucket(TokenBucketConfig{Capacity: 5, RefillPerSecond: 1})
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Take(context.Background(), 1))
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	fake := time.Now()
	b := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillPerSecond: 10})
	b.now = func() time.Time { return fake }

	require.NoError(t, b.Take(context.Background(), 1))

	fake = fake.Add(200 * time.Millisecond)
	require.NoError(t, b.Take(context.Background(), 1))
}

func TestTokenBucket_CancelledContext(t *testing.T) {
	b := NewTokenBucket(TokenBucketConfig{Capacity: 1, RefillPerSecond: 0.001})
	require.NoError(t, b.Take(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Take(ctx, 1)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestTokenBucket_NeverExceedsCapacity(t *testing.T) {
	fake := time.Now()
	b := NewTokenBucket(TokenBucketConfig{Capacity: 2, RefillPerSecond: 100})
	b.now = func() time.Time { return fake }

	fake = fake.Add(time.Hour)
	require.NoError(t, b.Take(context.Background(), 2))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Take(ctx, 1)
	assert.ErrorIs(t, err, ErrCancelled)
}
