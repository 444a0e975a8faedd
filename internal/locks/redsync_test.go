package locks

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

func newTestManager(t *testing.T) (*RedsyncManager, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	redisClient, err := redis.NewClient(&redis.Config{
		Address: s.Addr(),
	})
	require.NoError(t, err)

	manager, err := NewRedsyncManager(redisClient, 30*time.Second)
	require.NoError(t, err)

	t.Cleanup(func() {
		manager.Close()
		redisClient.Close()
		s.Close()
	})
	return manager, s
}

func TestRedsyncManager_AcquireLock(t *testing.T) {
	manager, s := newTestManager(t)
	ctx := context.Background()

	t.Run("successful lock acquisition", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "test-lock", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, lock)

		assert.Equal(t, "test-lock", lock.Key())
		assert.True(t, lock.IsHeld())
		assert.True(t, s.Exists("lock:test-lock"))

		err = lock.Release(ctx)
		assert.NoError(t, err)
		assert.False(t, lock.IsHeld())
		assert.False(t, s.Exists("lock:test-lock"), "release removes the key")
	})

	t.Run("double release", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "twice", 30*time.Second)
		require.NoError(t, err)

		require.NoError(t, lock.Release(ctx))
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
	})

	t.Run("lock contention", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "contended-lock", 30*time.Second)
		require.NoError(t, err)
		defer lock1.Release(ctx)

		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		lock2, err := manager.AcquireLock(shortCtx, "contended-lock", 30*time.Second)
		assert.Error(t, err)
		assert.Nil(t, lock2)
	})

	t.Run("waiter acquires after release", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "handoff", 30*time.Second)
		require.NoError(t, err)

		acquired := make(chan Lock, 1)
		go func() {
			lock2, err := manager.AcquireLock(ctx, "handoff", 30*time.Second)
			if err == nil {
				acquired <- lock2
			}
			close(acquired)
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, lock1.Release(ctx))

		select {
		case lock2, ok := <-acquired:
			require.True(t, ok)
			assert.NoError(t, lock2.Release(ctx))
		case <-time.After(3 * time.Second):
			t.Fatal("waiter never acquired the lock")
		}
	})

	t.Run("lock extension", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "extend-lock", 5*time.Second)
		require.NoError(t, err)
		defer lock.Release(ctx)

		err = lock.Extend(ctx, 10*time.Second)
		assert.NoError(t, err)
		assert.True(t, lock.IsHeld())
	})
}

func TestRedsyncManager_OrgLock(t *testing.T) {
	manager, s := newTestManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireOrgLock(ctx, 42)
	require.NoError(t, err)

	assert.Equal(t, "triggers:org:42", lock.Key())
	assert.True(t, s.Exists("lock:triggers:org:42"))

	other, err := manager.AcquireOrgLock(ctx, 43)
	require.NoError(t, err, "different orgs do not contend")

	assert.NoError(t, other.Release(ctx))
	assert.NoError(t, lock.Release(ctx))
}

func TestRedsyncManager_Close(t *testing.T) {
	manager, s := newTestManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "closing", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	assert.False(t, lock.IsHeld())
	assert.False(t, s.Exists("lock:closing"))
}

func TestWithOrgLock_Serializes(t *testing.T) {
	managers := map[string]LockManagerInterface{
		"local": NewLocalManager(),
	}
	redsyncManager, _ := newTestManager(t)
	managers["redsync"] = redsyncManager

	for name, manager := range managers {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup

			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := WithOrgLock(context.Background(), manager, 7, func(ctx context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxInside)
							if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
								break
							}
						}
						time.Sleep(10 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestWithOrgLock_LostLockCancelsWork(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	defer redisClient.Close()

	// renewal runs every second
	manager, err := NewRedsyncManager(redisClient, 1500*time.Millisecond)
	require.NoError(t, err)
	defer manager.Close()

	var cause error
	err = WithOrgLock(context.Background(), manager, 9, func(ctx context.Context) error {
		// another holder takes the key over once ours lapses
		require.NoError(t, s.Set("lock:"+OrgLockKey(9), "someone-else"))

		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, cause, ErrLockLost)

	got, err := s.Get("lock:" + OrgLockKey(9))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got, "the new holder keeps the key")
}

func TestWithOrgLock_ReturnsFnError(t *testing.T) {
	boom := context.DeadlineExceeded
	err := WithOrgLock(context.Background(), NewLocalManager(), 3, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrLockLost)
}

func TestNewDistributedLockManager(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	redisClient, err := redis.NewClient(&redis.Config{
		Address: s.Addr(),
	})
	require.NoError(t, err)
	defer redisClient.Close()

	manager, err := NewDistributedLockManager(redisClient, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, manager)
	defer manager.Close()

	_, ok := manager.(*RedsyncManager)
	assert.True(t, ok, "NewDistributedLockManager should return a RedsyncManager")
}

func TestNewLockManager_WithoutRedis(t *testing.T) {
	manager, err := NewLockManager(nil, time.Minute)
	require.NoError(t, err)

	_, ok := manager.(*LocalManager)
	assert.True(t, ok)
}

func TestRedsyncManager_NilRedisClient(t *testing.T) {
	manager, err := NewRedsyncManager(nil, time.Minute)
	assert.Error(t, err)
	assert.Nil(t, manager)
	assert.Contains(t, err.Error(), "redis client is required")
}
