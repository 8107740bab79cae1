package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/voxguard/voxguard/internal/config"
	"go.uber.org/zap"
)

func testLimiterConfig(enabled bool) config.Config {
	return config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:       enabled,
			PreAuthRate:   1,
			PreAuthBurst:  3,
			PostAuthRate:  5,
			PostAuthBurst: 5,
		},
	}
}

func TestMemoryBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	bucket := &memoryBucket{
		buckets: make(map[string]*bucketState),
		now:     func() time.Time { return now },
	}

	for i := 0; i < 3; i++ {
		allowed, err := bucket.Allow(ctx, "k", 1, 3)
		require.NoError(t, err)
		require.True(t, allowed, "request %d within burst", i)
	}

	allowed, err := bucket.Allow(ctx, "k", 1, 3)
	require.NoError(t, err)
	require.False(t, allowed, "burst exhausted")

	// One token refills after a second at rate 1/s.
	now = now.Add(1100 * time.Millisecond)
	allowed, err = bucket.Allow(ctx, "k", 1, 3)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "k", 1, 3)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestMemoryBucket_IndependentKeys(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()

	allowed, err := bucket.Allow(ctx, "a", 1, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = bucket.Allow(ctx, "a", 1, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = bucket.Allow(ctx, "b", 1, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMemoryBucket_InvalidArgs(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()

	_, err := bucket.Allow(ctx, "", 1, 1)
	require.Error(t, err)

	_, err = bucket.Allow(ctx, "k", 0, 1)
	require.Error(t, err)

	_, err = bucket.Allow(ctx, "k", 1, 0)
	require.Error(t, err)
}

func TestLimiter_PreAuth(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(Params{Cfg: testLimiterConfig(true), Log: zap.NewNop()})

	for i := 0; i < 3; i++ {
		require.True(t, limiter.AllowPreAuth(ctx, "203.0.113.7", "/v1/attest/challenge"))
	}
	require.False(t, limiter.AllowPreAuth(ctx, "203.0.113.7", "/v1/attest/challenge"))

	// Another address has its own bucket.
	require.True(t, limiter.AllowPreAuth(ctx, "203.0.113.8", "/v1/attest/challenge"))
}

func TestLimiter_MissingIdentityDenied(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(Params{Cfg: testLimiterConfig(true), Log: zap.NewNop()})

	require.False(t, limiter.AllowPreAuth(ctx, "", "/v1/attest/challenge"))
	require.False(t, limiter.AllowPreAuth(ctx, "   ", "/v1/attest/challenge"))
	require.False(t, limiter.AllowPostAuth(ctx, "", "/v1/credits/sync"))
}

func TestLimiter_Disabled(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(Params{Cfg: testLimiterConfig(false), Log: zap.NewNop()})

	require.False(t, limiter.Enabled())
	for i := 0; i < 100; i++ {
		require.True(t, limiter.AllowPreAuth(ctx, "203.0.113.7", "/v1/attest/challenge"))
	}
	// Disabled limiter does not gate on identity either.
	require.True(t, limiter.AllowPostAuth(ctx, "", "/v1/credits/sync"))
}
