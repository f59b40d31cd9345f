package redis

import (
	"context"
	"fmt"
	"time"

	"ms-commerce/internal/logger"

	"github.com/go-redis/redis/v8"
)

// Default hold time for a payment lock. Long enough to cover a slow
// gateway round trip, short enough that a crashed worker frees the order
// without an operator.
const defaultLockTTL = 30 * time.Second

// Locks serializes payment attempts per order. Whoever holds the order's
// lock may drive a payment for it; everyone else backs off until the lock
// is released or expires.
type Locks struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewLocks(client *redis.Client, ttl time.Duration, log *logger.Logger) *Locks {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locks{
		Client: client,
		TTL:    ttl,
		Logger: log,
	}
}

func paymentLockKey(orderID string) string {
	return "payment_lock:" + orderID
}

// AcquireOrderLock takes the order's payment lock for the given holder.
// Returns false when another holder already has it.
func (l *Locks) AcquireOrderLock(ctx context.Context, orderID, holder string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, paymentLockKey(orderID), holder, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire payment lock for order %s: %w", orderID, err)
	}
	if ok {
		l.Logger.Debug("REDIS", fmt.Sprintf("payment lock acquired for order %s by %s", orderID, holder))
	}
	return ok, nil
}

// ReleaseOrderLock frees the order's payment lock, but only when the caller
// still holds it. Releasing an expired or foreign lock is a no-op.
func (l *Locks) ReleaseOrderLock(ctx context.Context, orderID, holder string) error {
	key := paymentLockKey(orderID)
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return fmt.Errorf("release payment lock for order %s: %w", orderID, err)
	}
	if val != holder {
		l.Logger.Warn("REDIS", fmt.Sprintf("payment lock for order %s now held by %s, not releasing", orderID, val))
		return nil
	}
	if _, err := l.Client.Del(ctx, key).Result(); err != nil {
		return fmt.Errorf("release payment lock for order %s: %w", orderID, err)
	}
	l.Logger.Debug("REDIS", fmt.Sprintf("payment lock released for order %s", orderID))
	return nil
}

// IsOrderLocked reports whether someone currently holds the order's payment
// lock, without taking it.
func (l *Locks) IsOrderLocked(ctx context.Context, orderID string) (bool, error) {
	_, err := l.Client.Get(ctx, paymentLockKey(orderID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
