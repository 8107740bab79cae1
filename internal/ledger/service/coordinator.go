package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voxguard/voxguard/internal/ratelimit"
	"go.uber.org/zap"
)

const lockPollInterval = 100 * time.Millisecond

// Coordinator serializes ledger-mutating batches per user. The keyed
// semaphore covers one process; when a redis locker is available it is
// layered on top so replicas exclude each other too.
type Coordinator struct {
	mu      sync.Mutex
	users   map[string]*userSlot
	locker  *ratelimit.Locker
	lockTTL time.Duration
	log     *zap.Logger
}

type userSlot struct {
	sem  chan struct{}
	refs int
}

func NewCoordinator(locker *ratelimit.Locker, lockTTL time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{
		users:   make(map[string]*userSlot),
		locker:  locker,
		lockTTL: lockTTL,
		log:     log.Named("ledger.coordinator"),
	}
}

// RunLocked executes fn while holding the user's slot. Waiters block
// until the holder finishes or their context expires.
func (c *Coordinator) RunLocked(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	slot := c.checkout(userID)
	defer c.checkin(userID)

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot.sem }()

	if c.locker != nil {
		token, err := c.acquireDistributed(ctx, userID)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.locker.Release(context.Background(), distributedKey(userID), token); err != nil {
				c.log.Warn("sync lock release failed", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	return fn(ctx)
}

func (c *Coordinator) acquireDistributed(ctx context.Context, userID string) (string, error) {
	key := distributedKey(userID)
	for {
		token, ok, err := c.locker.TryLock(ctx, key, c.lockTTL)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func distributedKey(userID string) string {
	return fmt.Sprintf("ledger:sync:%s", userID)
}

func (c *Coordinator) checkout(userID string) *userSlot {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.users[userID]
	if !ok {
		slot = &userSlot{sem: make(chan struct{}, 1)}
		c.users[userID] = slot
	}
	slot.refs++
	return slot
}

func (c *Coordinator) checkin(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.users[userID]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(c.users, userID)
	}
}
