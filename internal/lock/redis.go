package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lease only if this process still owns it, so an
// expired lease re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker coordinates leases across worker processes via SET NX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a redis-backed locker
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "certops:lease:",
	}
}

// Acquire takes the lease for key, failing fast with ErrHeld if another
// process holds an unexpired lease.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Use a fresh context: release commonly runs after the run's
			// context has been canceled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
		})
	}
	return release, nil
}
