package replay

import (
	"context"
	"time"

	"zkdpp/pkg/cache"
	"zkdpp/pkg/errors"
)

const redisKeyPrefix = "zkdpp:replay:nonce:"

var (
	_ Guard = (*RedisGuard)(nil)
	_ Guard = (*MemoryGuard)(nil)
)

// RedisGuard shares consumed nonces between gateway replicas. Key expiry replaces the
// sweep loop.
type RedisGuard struct {
	cache  *cache.RedisCache
	window time.Duration
	now    func() time.Time
}

func NewRedisGuard(c *cache.RedisCache, window time.Duration) *RedisGuard {
	return &RedisGuard{cache: c, window: window, now: time.Now}
}

// CheckAndStore relies on SET NX for atomicity across processes.
func (g *RedisGuard) CheckAndStore(ctx context.Context, nonce, predicateID string, generatedAt time.Time) (bool, error) {
	now := g.now()
	ttl := retainUntil(now, generatedAt, g.window).Sub(now)
	ok, err := g.cache.SetNX(ctx, redisKeyPrefix+nonce, predicateID, ttl)
	if err != nil {
		return false, errors.Wrap(err, "replay store")
	}
	return ok, nil
}

// EvictExpired is a no-op: key expiry removes stale nonces.
func (g *RedisGuard) EvictExpired() int { return 0 }

// Len counts live nonce keys. It scans the keyspace, so it is meant for metrics only.
func (g *RedisGuard) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n := 0
	iter := g.cache.Client().Scan(ctx, 0, redisKeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if iter.Err() != nil {
		return -1
	}
	return n
}

func (g *RedisGuard) Start() {}

func (g *RedisGuard) Stop() {}

// Ping reports whether the backing store is reachable.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.cache.Ping(ctx)
}
