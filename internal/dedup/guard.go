// Package dedup keeps a trigger from firing twice for the same inbound event
// when the event is delivered more than once.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/redis"
)

// Guard records claims on keys. Claim reports true only for the first caller
// of a key within the TTL. Release drops a claim so the key can be retried.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// FireKey is the claim key for firing triggerID on the event identified by eventKey
func FireKey(triggerID int64, eventKey string) string {
	return fmt.Sprintf("fire:%d:%s", triggerID, eventKey)
}

// RedisGuard claims keys with SET NX so every process shares the same claims
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisGuard creates a guard backed by redis
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl, prefix: "triggers:"}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl)
	if err != nil {
		return false, errors.ConnectionError("failed to claim fire key", err).WithContext("key", key)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Delete(ctx, g.prefix+key); err != nil {
		return errors.ConnectionError("failed to release fire key", err).WithContext("key", key)
	}
	return nil
}

// LRUGuard keeps claims in a bounded in-process cache. Claims evicted by
// size are forgotten, so it only protects within one process.
type LRUGuard struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

// NewLRUGuard creates an in-process guard holding at most size claims
func NewLRUGuard(size int, ttl time.Duration) (*LRUGuard, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("fire dedup cache: %v", err))
	}
	return &LRUGuard{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (g *LRUGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if ts, ok := g.cache.Get(key); ok {
		if g.ttl <= 0 || now.Sub(ts) <= g.ttl {
			return false, nil
		}
		g.cache.Remove(key)
	}
	g.cache.Add(key, now)
	return true, nil
}

func (g *LRUGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cache.Remove(key)
	return nil
}

// NewGuard returns a redis guard when a client is given and an LRU guard otherwise
func NewGuard(client *redis.Client, ttl time.Duration, cacheSize int) (Guard, error) {
	if client != nil {
		return NewRedisGuard(client, ttl), nil
	}
	return NewLRUGuard(cacheSize, ttl)
}
