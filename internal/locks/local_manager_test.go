package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/common/errors"
)

func TestLocalManager(t *testing.T) {
	manager := NewLocalManager()
	ctx := context.Background()

	lock, err := manager.AcquireOrgLock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "triggers:org:1", lock.Key())
	assert.True(t, lock.IsHeld())
	assert.NoError(t, lock.Extend(ctx, time.Second))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = manager.AcquireOrgLock(shortCtx, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	select {
	case <-lock.Done():
		t.Fatal("done before release")
	default:
	}

	require.NoError(t, lock.Release(ctx))
	assert.False(t, lock.IsHeld())
	<-lock.Done()
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), ErrLockNotHeld)

	again, err := manager.AcquireOrgLock(ctx, 1)
	require.NoError(t, err)
	assert.NoError(t, again.Release(ctx))
}
