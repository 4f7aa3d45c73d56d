package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisStore(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, "")

	_, ok, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "ch1", "100"))
	require.NoError(t, s.Set(ctx, "ch2", "0:55"))

	token, ok, err := s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", token)

	assert.Equal(t, "0:55", mr.HGet("leadpulse:replay", "ch2"))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ch1": "100", "ch2": "0:55"}, all)

	require.NoError(t, s.Clear(ctx, "ch1"))
	_, ok, err = s.Get(ctx, "ch1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx, ""))
	assert.False(t, mr.Exists("leadpulse:replay"))
	require.NoError(t, s.Close())
}

func TestRedisStore_ErrorsSurface(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, "cursors")
	require.NoError(t, s.Set(ctx, "ch1", "1"))

	mr.Close()

	_, ok, err := s.Get(ctx, "ch1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrStore))
	assert.Error(t, s.Set(ctx, "ch1", "2"))
}

func TestNewRedisStoreFromURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr()+"/0", "k", 2)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "a", "b"))
	assert.Equal(t, "b", mr.HGet("k", "a"))
	require.NoError(t, s.Close())

	_, err = NewRedisStoreFromURL(context.Background(), "://bad", "k", 0)
	assert.Error(t, err)
}
