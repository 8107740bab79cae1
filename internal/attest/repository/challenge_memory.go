package repository

import (
	"context"
	"sync"
	"time"

	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
)

type memoryChallengeStore struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

// NewMemoryChallengeStore is the single-instance fallback used when redis
// is not configured, and in tests.
func NewMemoryChallengeStore() attestdomain.ChallengeStore {
	return &memoryChallengeStore{pending: make(map[string]time.Time)}
}

func (s *memoryChallengeStore) Put(ctx context.Context, challenge []byte, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	s.pending[challengeKey(challenge)] = time.Now().Add(ttl)
	return nil
}

func (s *memoryChallengeStore) Consume(ctx context.Context, challenge []byte) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()

	key := challengeKey(challenge)
	deadline, ok := s.pending[key]
	if !ok {
		return false, nil
	}
	delete(s.pending, key)
	return time.Now().Before(deadline), nil
}

func (s *memoryChallengeStore) evictExpired() {
	now := time.Now()
	for key, deadline := range s.pending {
		if now.After(deadline) {
			delete(s.pending, key)
		}
	}
}
