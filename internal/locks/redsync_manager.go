package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/redis"
)

// RedsyncManager implements distributed locking using the Redlock algorithm
// via go-redsync/redsync/v4. Held locks are renewed in the background at a
// third of their expiration until released.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	orgTTL     time.Duration
	tries      int
	localLocks map[*RedsyncLock]struct{}
	mutex      sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex to implement Lock
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	expMu      sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
	once       sync.Once
}

// NewRedsyncManager creates a lock manager on top of redisClient. orgTTL is
// the expiration used for organization locks.
func NewRedsyncManager(redisClient *redis.Client, orgTTL time.Duration) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if orgTTL <= 0 {
		orgTTL = 30 * time.Second
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		orgTTL:     orgTTL,
		tries:      100,
		localLocks: make(map[*RedsyncLock]struct{}),
	}, nil
}

// AcquireLock acquires the distributed lock for key, retrying until ctx is
// done or the retries run out.
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(expiration),
		redsync.WithTries(rm.tries),
		redsync.WithRetryDelay(50*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError(fmt.Sprintf("acquire lock %s", key)).WithCause(err)
		}
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[lock] = struct{}{}
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// AcquireOrgLock acquires the organization's exclusivity lock
func (rm *RedsyncManager) AcquireOrgLock(ctx context.Context, orgID int64) (Lock, error) {
	return rm.AcquireLock(ctx, OrgLockKey(orgID), rm.orgTTL)
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.currentExpiration() / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				// lost to expiry or another holder
				rm.forget(lock)
				lock.cancel()
				return
			}
		}
	}
}

func (rm *RedsyncManager) forget(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock)
	rm.mutex.Unlock()
}

// Close releases all locks held through this manager
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = lock.Release(ctx)
		cancel()
	}
	return nil
}

// Key returns the unique identifier for this lock.
func (rl *RedsyncLock) Key() string {
	return rl.key
}

func (rl *RedsyncLock) currentExpiration() time.Duration {
	rl.expMu.Lock()
	defer rl.expMu.Unlock()
	return rl.expiration
}

// Extend extends the lock in Redis. Redsync extends by the mutex's configured
// expiry, so a new expiration only applies to the local renewal cadence.
func (rl *RedsyncLock) Extend(ctx context.Context, expiration time.Duration) error {
	if !rl.IsHeld() {
		return ErrLockNotHeld
	}

	rl.expMu.Lock()
	rl.expiration = expiration
	rl.expMu.Unlock()

	ok, err := rl.mutex.ExtendContext(ctx)
	if err != nil {
		return errors.InternalError("failed to extend distributed lock", err).WithContext("key", rl.key)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

// Release stops renewal and unlocks the mutex in Redis
func (rl *RedsyncLock) Release(ctx context.Context) error {
	if !rl.IsHeld() {
		return ErrLockNotHeld
	}

	var err error
	rl.once.Do(func() {
		rl.cancel()
		rl.manager.forget(rl)

		var ok bool
		ok, err = rl.mutex.UnlockContext(ctx)
		if err == nil && !ok {
			err = ErrLockNotHeld
		}
	})
	return err
}

// Done is closed when the lock is released or renewal fails
func (rl *RedsyncLock) Done() <-chan struct{} {
	return rl.ctx.Done()
}

// IsHeld returns true if the lock is currently held by this instance.
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var _ LockManagerInterface = (*RedsyncManager)(nil)
