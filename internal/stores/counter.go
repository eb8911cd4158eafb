package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps backend failures from either store implementation.
var ErrUnavailable = errors.New("store backend unavailable")

// CounterStore is a keyed fixed-window counter. Incr is the single atomic
// step of the limiter: create-or-bump the entry for key and report the count
// and the window's reset deadline.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
	Close()
}

type counterEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore is the in-process CounterStore. Entries whose reset
// deadline has passed are removed by a periodic sweep so memory stays
// bounded by the number of keys active in the last window; without the
// sweep, high-cardinality keys (per-IP) would grow the map forever.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCounterStore creates a memory counter store and starts its sweep
// loop with the given interval. A nil now falls back to time.Now.
func NewMemoryCounterStore(sweepInterval time.Duration, now func() time.Time) *MemoryCounterStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryCounterStore{
		entries: make(map[string]counterEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Incr bumps the counter for key, starting a fresh window when none exists
// or the previous one has lapsed.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = counterEntry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = entry
		return entry.count, entry.resetAt, nil
	}

	entry.count++
	s.entries[key] = entry
	return entry.count, entry.resetAt, nil
}

// Reset removes the entry for key.
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the sweep loop. Idempotent.
func (s *MemoryCounterStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Len reports the live entry count. Test and metrics hook.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryCounterStore) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryCounterStore) sweep() {
	now := s.now()
	s.mu.Lock()
	for key, entry := range s.entries {
		if !now.Before(entry.resetAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}

// RedisCounterStore is the CounterStore for multi-process deployments:
// INCR plus a window-length TTL set on the first hit. Redis key expiry
// replaces the sweep.
type RedisCounterStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounterStore creates a Redis counter store. Keys are written as
// prefix:key.
func NewRedisCounterStore(redisClient redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "gsrl"
	}
	return &RedisCounterStore{redis: redisClient, prefix: prefix}
}

func (s *RedisCounterStore) key(key string) string {
	return s.prefix + ":" + key
}

// Incr bumps the counter for key. The TTL is (re)applied whenever the key
// has none, which also repairs a counter orphaned between INCR and EXPIRE.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.key(key)

	pipe := s.redis.Pipeline()
	incr := pipe.Incr(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	ttl := pttl.Val()
	if incr.Val() == 1 || ttl <= 0 {
		if err := s.redis.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ttl = window
	}

	return incr.Val(), now.Add(ttl), nil
}

// Reset deletes the counter for key.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisCounterStore) Close() {}
