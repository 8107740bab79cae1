package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrVerificationFailed = errors.New("attestation_verification_failed")
	ErrKeyNotFound        = errors.New("attested_key_not_found")
	ErrChallengeInvalid   = errors.New("challenge_invalid_or_expired")
)

// Service verifies device attestations and per-request assertions.
type Service interface {
	// IssueChallenge mints a fresh single-use random challenge.
	IssueChallenge(ctx context.Context) ([]byte, error)

	// RegisterKey validates a one-time attestation blob and persists the
	// device public key with a zeroed replay counter. A repeated
	// registration for the same key id overwrites the previous one.
	RegisterKey(ctx context.Context, keyID string, attestation, challenge []byte) error

	// VerifyAssertion validates a per-request proof-of-possession bound to
	// clientDataHash and bumps the stored replay counter.
	VerifyAssertion(ctx context.Context, keyID string, assertion, clientDataHash []byte) error
}

// Repository persists attested keys.
type Repository interface {
	Get(ctx context.Context, keyID string) (*AttestedKey, error)
	Upsert(ctx context.Context, key *AttestedKey) error
	// BumpCounter sets the counter to newCounter only if it is strictly
	// greater than the stored value; reports whether the update applied.
	BumpCounter(ctx context.Context, keyID string, newCounter uint32) (bool, error)
	// DeleteOlderThan removes keys registered before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChallengeStore tracks issued challenges until they are consumed or expire.
type ChallengeStore interface {
	Put(ctx context.Context, challenge []byte, ttl time.Duration) error
	// Consume removes the challenge, reporting whether it was outstanding.
	Consume(ctx context.Context, challenge []byte) (bool, error)
}
