package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookRateLimiter_AllowsWithinBurst(t *testing.T) {
	r := NewWebhookRateLimiter()
	for i := 0; i < webhookRateLimitCapacity; i++ {
		assert.True(t, r.Allow("k1"))
	}
}

func TestWebhookRateLimiter_RejectsOverBurst(t *testing.T) {
	r := NewWebhookRateLimiter()
	for i := 0; i < webhookRateLimitCapacity; i++ {
		r.Allow("k1")
	}
	assert.False(t, r.Allow("k1"))
}

func TestWebhookRateLimiter_TracksPerKeyIndependently(t *testing.T) {
	r := NewWebhookRateLimiter()
	for i := 0; i < webhookRateLimitCapacity; i++ {
		r.Allow("k1")
	}
	assert.True(t, r.Allow("k2"))
	assert.Equal(t, 2, r.TrackedKeys())
}
