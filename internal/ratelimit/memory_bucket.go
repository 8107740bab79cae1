package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

type bucketState struct {
	tokens float64
	ts     time.Time
}

// memoryBucket is the in-process fallback used when redis is not
// configured. Counts are per replica, not shared.
type memoryBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	now     func() time.Time
}

func NewMemoryBucket() Bucket {
	return &memoryBucket{
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

func (b *memoryBucket) Allow(_ context.Context, key string, rate float64, burst int) (bool, error) {
	if key == "" {
		return false, errors.New("rate limiter key is empty")
	}
	if rate <= 0 || burst <= 0 {
		return false, errors.New("rate limiter rate and burst must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, ok := b.buckets[key]
	if !ok {
		state = &bucketState{tokens: float64(burst), ts: now}
		b.buckets[key] = state
	} else {
		delta := now.Sub(state.ts).Seconds()
		if delta < 0 {
			delta = 0
		}
		state.tokens = minFloat(float64(burst), state.tokens+delta*rate)
		state.ts = now
	}

	if state.tokens < 1 {
		return false, nil
	}
	state.tokens--
	return true, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
