package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplayTTL bounds how long a gateway event id is remembered.
const DefaultReplayTTL = 24 * time.Hour

// ReplayCache remembers gateway event ids in Redis to short-circuit repeated deliveries before
// they reach the database. Correctness never depends on it.
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplayCache returns nil when client is nil; a nil cache admits every event.
func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &ReplayCache{client: client, ttl: ttl}
}

func replayKey(source, id string) string {
	return "webhook:" + source + ":" + id
}

// Admit reports whether the event is new. Redis errors admit the event.
func (c *ReplayCache) Admit(ctx context.Context, source, id string) bool {
	if c == nil || id == "" {
		return true
	}
	ok, err := c.client.SetNX(ctx, replayKey(source, id), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Forget drops an event id so a redelivery is processed again.
func (c *ReplayCache) Forget(ctx context.Context, source, id string) {
	if c == nil || id == "" {
		return
	}
	_ = c.client.Del(ctx, replayKey(source, id)).Err()
}
