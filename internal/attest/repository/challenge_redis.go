package repository

import (
	"context"
	"encoding/base64"
	"time"

	redis "github.com/redis/go-redis/v9"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
)

const challengeKeyPrefix = "attest:challenge:"

type redisChallengeStore struct {
	client *redis.Client
}

// NewRedisChallengeStore tracks issued challenges in redis so any gateway
// instance can consume a challenge minted by another.
func NewRedisChallengeStore(client *redis.Client) attestdomain.ChallengeStore {
	return &redisChallengeStore{client: client}
}

func (s *redisChallengeStore) Put(ctx context.Context, challenge []byte, ttl time.Duration) error {
	return s.client.Set(ctx, challengeKey(challenge), "1", ttl).Err()
}

func (s *redisChallengeStore) Consume(ctx context.Context, challenge []byte) (bool, error) {
	n, err := s.client.Del(ctx, challengeKey(challenge)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func challengeKey(challenge []byte) string {
	return challengeKeyPrefix + base64.RawStdEncoding.EncodeToString(challenge)
}
