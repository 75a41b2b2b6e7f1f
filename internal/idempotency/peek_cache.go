package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PeekCache is a Redis-backed read-through cache in front of
// MessageStore.CheckIdempotency, shared across every scheduler replica so
// a duplicate materializer pass on a different replica sees the same
// "already scheduled" answer without a round trip to postgres. It only
// ever caches a positive result (key exists); a miss always falls through
// to the store, since a negative answer can flip true at any moment and a
// stale negative would reintroduce the duplicate it exists to prevent.
type PeekCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPeekCache(client *redis.Client, ttl time.Duration) *PeekCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PeekCache{client: client, ttl: ttl}
}

func (c *PeekCache) cacheKey(key string) string {
	return "scheduler:idempotency:seen:" + key
}

// Seen reports whether key was previously recorded via MarkSeen.
func (c *PeekCache) Seen(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.cacheKey(key)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkSeen records that key now has a non-terminal MessageRecord.
func (c *PeekCache) MarkSeen(ctx context.Context, key string) error {
	return c.client.Set(ctx, c.cacheKey(key), "1", c.ttl).Err()
}

// Forget clears the cached entry so the key is looked up in the store
// again on the next Seen. Nothing in this module calls it: a record
// reaching a terminal status, or a reschedule terminating the old
// occurrence, leaves the entry in place until its TTL expires.
func (c *PeekCache) Forget(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.cacheKey(key)).Err()
}
