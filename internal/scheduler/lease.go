package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease lets one replica run a job per tick. A nil Lease always grants.
type Lease struct {
	client *redis.Client
	owner  string
}

// NewLease returns nil when client is nil.
func NewLease(client *redis.Client) *Lease {
	if client == nil {
		return nil
	}
	return &Lease{client: client, owner: uuid.NewString()}
}

func leaseKey(job string) string {
	return "scheduler:lease:" + job
}

// Acquire tries to take the lease for job. A Redis failure is reported as an error so the
// caller can skip the tick.
func (l *Lease) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	if l == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, leaseKey(job), l.owner, ttl).Result()
}

// Release drops the lease if this replica still holds it.
func (l *Lease) Release(ctx context.Context, job string) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{leaseKey(job)}, l.owner).Err()
}
