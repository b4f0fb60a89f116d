package reconcile

import (
	"context"
	"time"

	"callsync/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock extends the in-process pass lock across instances.
// Acquire returns false when another instance holds the lock. Refresh returns
// false once the lock has been lost; the engine calls it every TTL/3.
type DistributedLock interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

// RedisLock is a SET NX lock with an owner token and TTL. The engine's
// in-process mutex guarantees Acquire/Release are never interleaved, and
// Refresh only runs between them.
type RedisLock struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "callsync:lock:pass"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, l.key, owner, l.ttl)
	if err != nil || !ok {
		return false, err
	}
	l.owner = owner
	return true, nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	return utils.RefreshLock(ctx, l.rdb, l.key, l.owner, l.ttl)
}

func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	_, err := utils.ReleaseLock(ctx, l.rdb, l.key, owner)
	return err
}
