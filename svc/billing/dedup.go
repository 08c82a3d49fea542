package billing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore remembers processed webhook event IDs so retries can be answered
// without touching the database. Best effort: a dedup failure never blocks
// processing because every handler is idempotent anyway.
type DedupStore interface {
	// MarkProcessed records the event ID. Returns false if it was already recorded.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

const dedupKeyPrefix = "billing:webhook:event:"

// RedisDedup implements DedupStore on top of a shared redis instance.
type RedisDedup struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDedup creates a dedup store with the given retention window.
// A non-positive ttl defaults to 24 hours, comfortably longer than any
// provider retry schedule.
func NewRedisDedup(client redis.UniversalClient, ttl time.Duration) *RedisDedup {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
}
