// Package rediscache remembers which appointment an idempotency key created
// so replays can short-circuit before touching PostgreSQL.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

type IdempotencyCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewIdempotencyCache(rdb redis.UniversalClient, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &IdempotencyCache{rdb: rdb, ttl: ttl, prefix: "barbercal:idem:"}
}

// Lookup returns the appointment id recorded for key. A miss is not an error.
func (c *IdempotencyCache) Lookup(ctx context.Context, key string) (uuid.UUID, bool, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Remember records key -> id unless the key is already bound.
func (c *IdempotencyCache) Remember(ctx context.Context, key string, id uuid.UUID) error {
	return c.rdb.SetNX(ctx, c.prefix+key, id.String(), c.ttl).Err()
}

func (c *IdempotencyCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
