package channels

import (
	"time"

	"github.com/nextlevelbuilder/friendbot/internal/primitives"
)

// webhookRateLimitCapacity/RefillPerSecond give each source key (an IP,
// a webhook signing ID) a burst of 30 requests that drains over a minute —
// the same 30-per-60s shape the spec's transport layer expects from
// inbound webhook channels (Telegram, Signal's signing-relay mode).
const (
	webhookRateLimitCapacity = 30
	webhookRateLimitRefill   = webhookRateLimitCapacity / 60.0
	webhookRateLimitStale    = 10 * time.Minute
)

// WebhookRateLimiter bounds the rate of inbound webhook requests per source
// key. It is a thin, non-blocking wrapper over primitives.PerKeyRateLimiter
// so the channel layer doesn't maintain its own bucket bookkeeping.
type WebhookRateLimiter struct {
	limiter *primitives.PerKeyRateLimiter[string]
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter.
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{
		limiter: primitives.NewPerKeyRateLimiter[string](primitives.PerKeyRateLimiterConfig{
			Capacity:        webhookRateLimitCapacity,
			RefillPerSecond: webhookRateLimitRefill,
			StaleAfter:      webhookRateLimitStale,
		}),
	}
}

// Allow reports whether key is within its rate limit right now. Never
// blocks: a webhook handler must reject immediately, not delay the caller.
func (r *WebhookRateLimiter) Allow(key string) bool {
	return r.limiter.TryTake(key, 1)
}

// TrackedKeys reports how many source keys currently have an active bucket,
// for the gateway's /health debug surface.
func (r *WebhookRateLimiter) TrackedKeys() int {
	return r.limiter.Size()
}
