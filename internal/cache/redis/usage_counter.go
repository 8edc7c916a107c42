package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indijan/arbiter/internal/domain"
)

// UsageCounter implements domain.UsageCounter with INCR/DECR. The TTL is set
// when the key is first created so daily keys expire on their own.
type UsageCounter struct {
	rdb *redis.Client
}

// NewUsageCounter creates a UsageCounter backed by the given Client.
func NewUsageCounter(c *Client) *UsageCounter {
	return &UsageCounter{rdb: c.Underlying()}
}

func counterKey(key string) string {
	return keyPrefix + key
}

// Incr increments key and returns the new value.
func (u *UsageCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := counterKey(key)
	n, err := u.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := u.rdb.Expire(ctx, k, ttl).Err(); err != nil {
			return n, fmt.Errorf("redis: expire %s: %w", key, err)
		}
	}
	return n, nil
}

// Decr decrements key and returns the new value.
func (u *UsageCounter) Decr(ctx context.Context, key string) (int64, error) {
	n, err := u.rdb.Decr(ctx, counterKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: decr %s: %w", key, err)
	}
	return n, nil
}

// Get returns the counter value; a missing key reads as zero.
func (u *UsageCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := u.rdb.Get(ctx, counterKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return n, nil
}

var _ domain.UsageCounter = (*UsageCounter)(nil)
