package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flow-triggers/internal/common/errors"
)

// LocalManager serializes lock holders within one process. It is used when
// no Redis is configured; expirations are ignored.
type LocalManager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalManager returns an in-process lock manager
func NewLocalManager() *LocalManager {
	return &LocalManager{slots: make(map[string]chan struct{})}
}

func (lm *LocalManager) slot(key string) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ch, ok := lm.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lm.slots[key] = ch
	}
	return ch
}

// AcquireLock blocks until key is free or ctx is done
func (lm *LocalManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	ch := lm.slot(key)

	select {
	case ch <- struct{}{}:
		return &localLock{key: key, slot: ch, done: make(chan struct{})}, nil
	case <-ctx.Done():
		return nil, errors.TimeoutError(fmt.Sprintf("acquire lock %s", key)).WithCause(ctx.Err())
	}
}

// AcquireOrgLock acquires the organization's exclusivity lock
func (lm *LocalManager) AcquireOrgLock(ctx context.Context, orgID int64) (Lock, error) {
	return lm.AcquireLock(ctx, OrgLockKey(orgID), 0)
}

func (lm *LocalManager) Close() error {
	return nil
}

type localLock struct {
	key      string
	slot     chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	released bool
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Extend(ctx context.Context, expiration time.Duration) error {
	if !l.IsHeld() {
		return ErrLockNotHeld
	}
	return nil
}

func (l *localLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return ErrLockNotHeld
	}
	l.released = true
	close(l.done)
	<-l.slot
	return nil
}

func (l *localLock) Done() <-chan struct{} { return l.done }

func (l *localLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released
}

var _ LockManagerInterface = (*LocalManager)(nil)
