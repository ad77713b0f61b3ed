// Package primitives holds the leaf-level concurrency and text helpers the
// turn engine is built on: a leaky-bucket rate limiter, per-key mutual
// exclusion, a per-key rate limiter with stale-key eviction, a supervised
// periodic task runner, and the token-estimation / external-content-wrapping
// helpers used throughout the context builder and tools.
package primitives

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned by TokenBucket.Take when ctx is cancelled before
// enough tokens become available.
var ErrCancelled = errors.New("primitives: cancelled")

// maxSleepStep bounds each sleep increment inside Take so cancellation stays
// responsive even when the caller asks for a very large refill wait.
const maxSleepStep = 250 * time.Millisecond

// TokenBucketConfig configures a TokenBucket.
type TokenBucketConfig struct {
	Capacity        float64
	RefillPerSecond float64
}

// TokenBucket is a leaky-bucket rate limiter. Tokens refill lazily on each
// Take call based on elapsed wall-clock time, so an idle bucket costs nothing
// to maintain between calls.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket starting full.
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	return &TokenBucket{
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillPerSecond,
		tokens:     cfg.Capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Take blocks until cost tokens are available, sleeping in bounded
// increments so ctx cancellation is observed promptly. It returns
// ErrCancelled if ctx is done before the tokens are available.
func (b *TokenBucket) Take(ctx context.Context, cost float64) error {
	for {
		wait, ok := b.tryTake(cost)
		if ok {
			return nil
		}

		sleep := wait
		if sleep > maxSleepStep {
			sleep = maxSleepStep
		}
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrCancelled
		case <-timer.C:
		}
	}
}

// TryTake attempts to deduct cost tokens without blocking, returning false
// immediately if not enough are available. Used by callers (e.g. a webhook
// handler) that must reject a request rather than delay it.
func (b *TokenBucket) TryTake(cost float64) bool {
	_, ok := b.tryTake(cost)
	return ok
}

// tryTake refills the bucket, then either deducts cost and returns (0, true),
// or returns the estimated wait duration until enough tokens exist.
func (b *TokenBucket) tryTake(cost float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = minF(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return 0, true
	}

	deficit := cost - b.tokens
	if b.refillRate <= 0 {
		return maxSleepStep, false
	}
	secs := deficit / b.refillRate
	return time.Duration(secs * float64(time.Second)), false
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
