// Package lock holds cluster-wide run locks in Redis so only one sweep or
// reconcile run is active at a time across replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payouts/internal/logger"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "payout_run_lock:"

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RunLock struct {
	Client *redis.Client
	log    *logger.Logger
}

func NewRunLock(client *redis.Client, log *logger.Logger) *RunLock {
	if log == nil {
		log = logger.NewNop()
	}
	return &RunLock{Client: client, log: log}
}

// Acquire takes the named lock for owner. It returns false when another
// owner holds it.
func (r *RunLock) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, keyPrefix+name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", name, err)
	}
	if ok {
		r.log.Debug("LOCK", fmt.Sprintf("Acquired %s for %s (ttl %s)", name, owner, ttl))
	}
	return ok, nil
}

// Release frees the lock if owner still holds it. A lock that expired or
// was taken over is left alone.
func (r *RunLock) Release(ctx context.Context, name, owner string) error {
	n, err := releaseScript.Run(ctx, r.Client, []string{keyPrefix + name}, owner).Int()
	if err != nil {
		return fmt.Errorf("release run lock %s: %w", name, err)
	}
	if n == 0 {
		r.log.Warn("LOCK", fmt.Sprintf("Lock %s no longer held by %s", name, owner))
	}
	return nil
}

// Holder returns the current owner of the lock, or "" when free.
func (r *RunLock) Holder(ctx context.Context, name string) (string, error) {
	val, err := r.Client.Get(ctx, keyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
