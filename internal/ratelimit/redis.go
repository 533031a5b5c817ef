package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments where several
// instances must share quota and replay state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. Keys are namespaced under prefix to
// keep them apart from other tenants of the same Redis.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

// Increment implements Store using INCR plus a window-scoped expiry. The
// expiry is only set when the counter is created, so ResetAt stays anchored
// to the first request of the window.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Entry, error) {
	rk := s.redisKey(key)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, rk)
	pipe.ExpireNX(ctx, rk, window)
	ttl := pipe.PTTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, fmt.Errorf("ratelimit: redis increment: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return Entry{Count: incr.Val(), ResetAt: time.Now().Add(remaining)}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	rk := s.redisKey(key)

	pipe := s.client.TxPipeline()
	count := pipe.Get(ctx, rk)
	ttl := pipe.PTTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}

	n, err := count.Int64()
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	return Entry{Count: n, ResetAt: time.Now().Add(ttl.Val())}, true, nil
}

// Cleanup implements Store. Redis evicts expired keys itself, so this is a
// no-op kept for interface symmetry with MemoryStore.
func (s *RedisStore) Cleanup(context.Context) error {
	return nil
}
