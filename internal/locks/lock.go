// Package locks serializes work per key across processes. The trigger engine
// takes one lock per organization around restore and import so two of them
// can never leave conflicting triggers active.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockNotHeld is returned when releasing or extending a lock that was lost or already released
var ErrLockNotHeld = errors.New("locks: lock not held")

// ErrLockLost is returned by WithOrgLock when the lock expired or was taken
// over before fn finished
var ErrLockLost = errors.New("locks: lock lost")

// Lock is a held lock
type Lock interface {
	// Key returns the unique identifier for this lock.
	Key() string

	// Extend resets the lock's expiration to the given duration.
	Extend(ctx context.Context, expiration time.Duration) error

	// Release releases the lock. The lock should not be used afterwards.
	Release(ctx context.Context) error

	// IsHeld reports whether the lock is still held by this instance.
	IsHeld() bool

	// Done is closed once the lock is released or lost.
	Done() <-chan struct{}
}

// LockManagerInterface acquires locks. AcquireLock blocks until the lock is
// acquired or ctx is done.
type LockManagerInterface interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	AcquireOrgLock(ctx context.Context, orgID int64) (Lock, error)
	Close() error
}

// OrgLockKey is the lock key serializing exclusivity changes within an organization
func OrgLockKey(orgID int64) string {
	return fmt.Sprintf("triggers:org:%d", orgID)
}

// WithOrgLock runs fn while holding the organization's lock. fn's context is
// cancelled if the lock is lost, so a transaction run inside it rolls back
// instead of committing unprotected; WithOrgLock then returns ErrLockLost.
func WithOrgLock(ctx context.Context, manager LockManagerInterface, orgID int64, fn func(ctx context.Context) error) error {
	lock, err := manager.AcquireOrgLock(ctx, orgID)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-lock.Done():
			cancel(ErrLockLost)
		case <-runCtx.Done():
		}
	}()

	err = fn(runCtx)
	if err != nil && errors.Is(context.Cause(runCtx), ErrLockLost) {
		return fmt.Errorf("%s: %w", lock.Key(), ErrLockLost)
	}
	return err
}
