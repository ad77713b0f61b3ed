package primitives

import (
	"context"
	"sync"
	"time"
)

// PerKeyRateLimiterConfig configures the buckets a PerKeyRateLimiter creates
// on demand, plus the staleness sweep policy.
type PerKeyRateLimiterConfig struct {
	Capacity        float64
	RefillPerSecond float64

	// StaleAfter is how long a key may sit idle before it becomes eligible
	// for eviction.
	StaleAfter time.Duration

	// SweepInterval triggers an opportunistic sweep every N calls to Take,
	// independent of wall-clock time, so a bursty-then-quiet deployment
	// still gets swept promptly.
	SweepInterval int
}

type bucketEntry struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// PerKeyRateLimiter maintains one TokenBucket per key and evicts buckets
// that have been idle past StaleAfter. Eviction runs opportunistically
// inside Take — either every SweepInterval calls, or whenever at least
// StaleAfter has elapsed since the last sweep — so low-traffic deployments
// don't leak memory even without a dedicated background goroutine.
type PerKeyRateLimiter[K comparable] struct {
	cfg PerKeyRateLimiterConfig

	mu            sync.Mutex
	buckets       map[K]*bucketEntry
	callsSinceSweep int
	lastSweep     time.Time
	now           func() time.Time
}

// NewPerKeyRateLimiter creates a limiter with the given per-key bucket
// config and sweep policy.
func NewPerKeyRateLimiter[K comparable](cfg PerKeyRateLimiterConfig) *PerKeyRateLimiter[K] {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 256
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &PerKeyRateLimiter[K]{
		cfg:     cfg,
		buckets: make(map[K]*bucketEntry),
		now:     time.Now,
	}
}

// Take refreshes key's last-access time, opportunistically sweeps stale
// keys, and blocks until cost tokens are available for key.
func (l *PerKeyRateLimiter[K]) Take(ctx context.Context, key K, cost float64) error {
	entry := l.touch(key)
	return entry.bucket.Take(ctx, cost)
}

// TryTake is the non-blocking counterpart to Take: it never sleeps, just
// reports whether cost tokens were available for key right now.
func (l *PerKeyRateLimiter[K]) TryTake(key K, cost float64) bool {
	entry := l.touch(key)
	return entry.bucket.TryTake(cost)
}

func (l *PerKeyRateLimiter[K]) touch(key K) *bucketEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{
			bucket: NewTokenBucket(TokenBucketConfig{
				Capacity:        l.cfg.Capacity,
				RefillPerSecond: l.cfg.RefillPerSecond,
			}),
		}
		l.buckets[key] = entry
	}
	entry.lastUsed = now

	l.callsSinceSweep++
	if l.callsSinceSweep >= l.cfg.SweepInterval || now.Sub(l.lastSweep) >= l.cfg.StaleAfter {
		l.sweepLocked(now)
	}

	return entry
}

func (l *PerKeyRateLimiter[K]) sweepLocked(now time.Time) {
	for k, e := range l.buckets {
		if now.Sub(e.lastUsed) >= l.cfg.StaleAfter {
			delete(l.buckets, k)
		}
	}
	l.callsSinceSweep = 0
	l.lastSweep = now
}

// Size reports the number of keys currently tracked. Testable property P7:
// Size must never exceed the number of keys used within the last
// max(StaleAfter, sweep-call-window).
func (l *PerKeyRateLimiter[K]) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
