package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("fails when server unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = NewClient(&Config{Address: addr})
		assert.Error(t, err)
	})

	t.Run("applies pool default", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
		assert.NotNil(t, client.GetGoRedisClient())
		assert.NoError(t, client.Health(context.Background()))
	})
}

func TestClient_SetNX(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "fire:1:msg:1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "fire:1:msg:1", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = client.SetNX(ctx, "fire:1:msg:1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be claimed again")
}

func TestClient_GetDeleteExists(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.True(t, IsNil(err))

	_, err = client.SetNX(ctx, "k", "v", 0)
	require.NoError(t, err)

	value, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	exists, err := client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.Delete(ctx, "k"))
	exists, err = client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}
