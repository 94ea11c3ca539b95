package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxCalls: 3, BurstSize: 3})
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("agent-1"))
	}
}

func TestAllowExceedsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxCalls: 2, BurstSize: 2})
	assert.True(t, rl.Allow("agent-1"))
	assert.True(t, rl.Allow("agent-1"))
	assert.False(t, rl.Allow("agent-1"), "third call within the burst cap limit must be rejected")
}

func TestAllowIsolatesKeys(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Window: time.Minute, MaxCalls: 1, BurstSize: 1})
	assert.True(t, rl.Allow("agent-1"))
	assert.True(t, rl.Allow("agent-2"), "a different source key must have its own independent window")
}

func TestAllowResetsAfterWindowElapses(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Window: 20 * time.Millisecond, MaxCalls: 1, BurstSize: 1})
	assert.True(t, rl.Allow("agent-1"))
	assert.False(t, rl.Allow("agent-1"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("agent-1"), "a new window should reopen the budget")
}
