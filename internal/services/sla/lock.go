package sla

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CycleLock coordinates scan cycles across engine instances so only one
// deployment runs breach detection at a time and escalations never fire
// twice. A nil lock means single-instance operation.
type CycleLock interface {
	// TryAcquire returns whether the lock was obtained and a release func.
	TryAcquire(ctx context.Context) (bool, func(), error)
}

// RedisCycleLock implements CycleLock with a SET NX lease in Redis. The lease
// expires on its own if the holder dies mid-cycle.
type RedisCycleLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	holder string
}

// NewRedisCycleLock creates a lock on the given key with the given lease TTL.
// The TTL should comfortably exceed the longest expected scan cycle.
func NewRedisCycleLock(client *redis.Client, key string, ttl time.Duration) *RedisCycleLock {
	if key == "" {
		key = "sla:scan:lock"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisCycleLock{
		client: client,
		key:    key,
		ttl:    ttl,
		holder: uuid.NewString(),
	}
}

// releaseScript deletes the lease only when we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// TryAcquire attempts to take the lease without blocking.
func (l *RedisCycleLock) TryAcquire(ctx context.Context) (bool, func(), error) {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		releaseScript.Run(context.Background(), l.client, []string{l.key}, l.holder)
	}
	return true, release, nil
}
