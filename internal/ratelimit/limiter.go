package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/voxguard/voxguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPreAuth  = "gw:preauth:%s:%s"
	keyPostAuth = "gw:postauth:%s:%s"
)

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// Limiter throttles in two tiers: a strict pre-auth tier keyed by
// client IP for the unauthenticated attestation endpoints, and a looser
// post-auth tier keyed by user for everything behind the assertion
// check. A caller with no usable identity is denied, not waved through.
type Limiter struct {
	enabled bool
	log     *zap.Logger
	bucket  Bucket

	preRate   float64
	preBurst  int
	postRate  float64
	postBurst int
}

func NewLimiter(p Params) *Limiter {
	if !p.Cfg.RateLimit.Enabled {
		return &Limiter{enabled: false}
	}

	var bucket Bucket
	if p.Client != nil {
		bucket = NewRedisBucket(p.Client)
	} else {
		bucket = NewMemoryBucket()
	}

	return &Limiter{
		enabled:   true,
		log:       p.Log.Named("ratelimit"),
		bucket:    bucket,
		preRate:   p.Cfg.RateLimit.PreAuthRate,
		preBurst:  p.Cfg.RateLimit.PreAuthBurst,
		postRate:  p.Cfg.RateLimit.PostAuthRate,
		postBurst: p.Cfg.RateLimit.PostAuthBurst,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowPreAuth(ctx context.Context, clientIP, path string) bool {
	if !l.Enabled() {
		return true
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return false
	}
	return l.allow(ctx, fmt.Sprintf(keyPreAuth, clientIP, path), l.preRate, l.preBurst)
}

func (l *Limiter) AllowPostAuth(ctx context.Context, userID, path string) bool {
	if !l.Enabled() {
		return true
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	return l.allow(ctx, fmt.Sprintf(keyPostAuth, userID, path), l.postRate, l.postBurst)
}

func (l *Limiter) allow(ctx context.Context, key string, rate float64, burst int) bool {
	allowed, err := l.bucket.Allow(ctx, key, rate, burst)
	if err != nil {
		// Fail closed: a broken limiter must not become an open door.
		l.log.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return allowed
}
