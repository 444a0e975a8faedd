package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/redis"
)

func TestFireKey(t *testing.T) {
	assert.Equal(t, "fire:12:msg:34", FireKey(12, "msg:34"))
}

func newRedisGuard(t *testing.T, ttl time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisGuard(client, ttl), mr
}

func TestGuards_ClaimOnce(t *testing.T) {
	redisGuard, _ := newRedisGuard(t, time.Hour)
	lruGuard, err := NewLRUGuard(100, time.Hour)
	require.NoError(t, err)

	guards := map[string]Guard{
		"redis": redisGuard,
		"lru":   lruGuard,
	}

	for name, guard := range guards {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := guard.Claim(ctx, FireKey(1, "msg:1"))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = guard.Claim(ctx, FireKey(1, "msg:1"))
			require.NoError(t, err)
			assert.False(t, ok, "second claim of the same key is refused")

			ok, err = guard.Claim(ctx, FireKey(2, "msg:1"))
			require.NoError(t, err)
			assert.True(t, ok, "another trigger may fire for the same event")

			require.NoError(t, guard.Release(ctx, FireKey(1, "msg:1")))
			ok, err = guard.Claim(ctx, FireKey(1, "msg:1"))
			require.NoError(t, err)
			assert.True(t, ok, "released keys can be claimed again")
		})
	}
}

func TestGuards_ConcurrentClaims(t *testing.T) {
	redisGuard, _ := newRedisGuard(t, time.Hour)
	lruGuard, err := NewLRUGuard(100, time.Hour)
	require.NoError(t, err)

	for name, guard := range map[string]Guard{"redis": redisGuard, "lru": lruGuard} {
		t.Run(name, func(t *testing.T) {
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := guard.Claim(context.Background(), "fire:9:call:9")
					assert.NoError(t, err)
					if ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestRedisGuard_Expiry(t *testing.T) {
	guard, mr := newRedisGuard(t, time.Minute)
	ctx := context.Background()

	ok, err := guard.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("triggers:k"))

	mr.FastForward(2 * time.Minute)

	ok, err = guard.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGuard_ConnectionError(t *testing.T) {
	guard, mr := newRedisGuard(t, time.Minute)
	mr.Close()

	_, err := guard.Claim(context.Background(), "k")
	assert.Error(t, err)
}

func TestLRUGuard_Expiry(t *testing.T) {
	guard, err := NewLRUGuard(10, time.Minute)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := guard.Claim(ctx, "k")
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = guard.Claim(ctx, "k")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = guard.Claim(ctx, "k")
	assert.True(t, ok)
}

func TestLRUGuard_Eviction(t *testing.T) {
	guard, err := NewLRUGuard(2, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		ok, err := guard.Claim(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, _ := guard.Claim(ctx, "a")
	assert.True(t, ok, "evicted claims are forgotten")
}

func TestNewGuard(t *testing.T) {
	guard, err := NewGuard(nil, time.Hour, 10)
	require.NoError(t, err)
	_, isLRU := guard.(*LRUGuard)
	assert.True(t, isLRU)

	_, err = NewGuard(nil, time.Hour, 0)
	assert.Error(t, err)
}
