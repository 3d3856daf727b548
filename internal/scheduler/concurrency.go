package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntryLock enforces the single-flight rule per scheduler entry: a firing
// that arrives while the previous firing of the same entry is still
// running is dropped rather than queued. When a Redis client is
// configured, the in-process flag is backed by a distributed SETNX lock so
// multiple orchestrator processes sharing one Redis instance still respect
// the rule.
type EntryLock struct {
	mu      sync.Mutex
	running map[string]bool
	redis   *redis.Client
	lockTTL time.Duration
}

// NewEntryLock creates a lock manager. redisClient may be nil, in which
// case single-flight is enforced only within this process.
func NewEntryLock(redisClient *redis.Client, lockTTL time.Duration) *EntryLock {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &EntryLock{running: make(map[string]bool), redis: redisClient, lockTTL: lockTTL}
}

// TryAcquire reports whether entryID may fire now. On success, the caller
// must call Release when the firing completes.
func (l *EntryLock) TryAcquire(ctx context.Context, entryID string) bool {
	l.mu.Lock()
	if l.running[entryID] {
		l.mu.Unlock()
		return false
	}
	l.running[entryID] = true
	l.mu.Unlock()

	if l.redis == nil {
		return true
	}

	ok, err := l.redis.SetNX(ctx, l.lockKey(entryID), "1", l.lockTTL).Result()
	if err != nil || !ok {
		l.mu.Lock()
		delete(l.running, entryID)
		l.mu.Unlock()
		return false
	}
	return true
}

// Release frees entryID for its next firing.
func (l *EntryLock) Release(ctx context.Context, entryID string) {
	l.mu.Lock()
	delete(l.running, entryID)
	l.mu.Unlock()

	if l.redis != nil {
		l.redis.Del(ctx, l.lockKey(entryID))
	}
}

func (l *EntryLock) lockKey(entryID string) string {
	return "pipeworks:scheduler:lock:" + entryID
}
