package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bothost/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultTTL         = 30 * time.Second // lock expiry if the holder dies
	lockAcquireTimeout = 5 * time.Second
)

const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// DistributedLock guards a job iteration across supervisor replicas
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisDistributedLock is a SET NX lock with owner-checked release and
// background renewal. A nil client means single-instance mode: TryLock
// always succeeds.
type RedisDistributedLock struct {
	client       *redis.Client
	lockKey      string
	lockValue    string
	ttl          time.Duration
	maxHold      time.Duration
	isHeld       bool
	acquiredAt   time.Time
	stopRenew    chan struct{}
	renewStopped bool
	mu           sync.Mutex
}

// NewRedisDistributedLock creates a lock on key, e.g. "bothost:job:backup"
func NewRedisDistributedLock(client *redis.Client, key string, ttl time.Duration) *RedisDistributedLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisDistributedLock{
		client:    client,
		lockKey:   key,
		lockValue: uuid.NewString(),
		ttl:       ttl,
		maxHold:   4 * ttl,
		stopRenew: make(chan struct{}),
	}
}

// Key returns the redis key
func (l *RedisDistributedLock) Key() string {
	return l.lockKey
}

// TryLock attempts to take the lock without waiting for it
func (l *RedisDistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		l.mu.Lock()
		l.isHeld = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.lockKey, l.lockValue, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.lockKey, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s already held by another instance", l.lockKey)
		return false, nil
	}

	l.mu.Lock()
	l.isHeld = true
	l.acquiredAt = time.Now()
	// fresh channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.renewStopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renewLock(ctx, stop)

	logger.DebugCtx(ctx, "lock %s acquired", l.lockKey)
	return true, nil
}

// Unlock releases the lock if this instance still owns it
func (l *RedisDistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.client == nil {
		l.isHeld = false
		l.mu.Unlock()
		return nil
	}
	if !l.isHeld && l.renewStopped {
		l.mu.Unlock()
		return nil
	}
	if !l.renewStopped {
		l.renewStopped = true
		close(l.stopRenew)
	}
	l.isHeld = false
	l.mu.Unlock()

	result, err := l.client.Eval(ctx, releaseScript, []string{l.lockKey}, l.lockValue).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.lockKey, err)
	}
	if result == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or taken by another instance", l.lockKey)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lock
func (l *RedisDistributedLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

func (l *RedisDistributedLock) renewLock(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()

			if held > l.maxHold {
				// the caller's Unlock still runs; only stop extending
				logger.WarnCtx(ctx, "lock %s held for %.0fs, no longer renewing", l.lockKey, held.Seconds())
				l.markLost()
				return
			}

			result, err := l.client.Eval(ctx, renewScript, []string{l.lockKey}, l.lockValue, l.ttl.Milliseconds()).Int64()
			if err != nil {
				logger.WarnCtx(ctx, "failed to renew lock %s: %v", l.lockKey, err)
				l.markLost()
				return
			}
			if result == 0 {
				logger.WarnCtx(ctx, "lock %s lost before renewal", l.lockKey)
				l.markLost()
				return
			}
		}
	}
}

func (l *RedisDistributedLock) markLost() {
	l.mu.Lock()
	l.isHeld = false
	l.mu.Unlock()
}

// WithLock runs fn only if the lock could be taken. ran is false when another
// instance holds it.
func WithLock(ctx context.Context, l DistributedLock, fn func(ctx context.Context) error) (ran bool, err error) {
	acquired, err := l.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if uerr := l.Unlock(context.Background()); uerr != nil {
			logger.WarnCtx(ctx, "unlock failed: %v", uerr)
		}
	}()
	return true, fn(ctx)
}
