package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore backs the bucket limiter with a shared Redis (or Valkey)
// instance so the request ceiling holds across all worker processes.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a CounterStore over an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Incr atomically increments the bucket counter. The expiry is set only when
// the increment created the key, so the TTL reflects the bucket's birth.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, eris.Wrapf(err, "ratelimit: incr %s", key)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, eris.Wrapf(err, "ratelimit: expire %s", key)
		}
	}
	return count, nil
}
