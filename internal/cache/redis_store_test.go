package cache_test

import (
	"context"
	"testing"
	"time"

	"taxcore/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *cache.RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRedisStore(client, "")
}

func TestRedisStore_GetSet(t *testing.T) {
	mr, s := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "rates:g1")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, s.Set(ctx, "rates:g1", []byte(`{"tags":{}}`), time.Minute))
	got, err := s.Get(ctx, "rates:g1")
	require.NoError(t, err)
	assert.Equal(t, `{"tags":{}}`, string(got))
	assert.True(t, mr.Exists(cache.DefaultRedisPrefix+"entry:rates:g1"))

	mr.FastForward(time.Minute + time.Second)
	_, err = s.Get(ctx, "rates:g1")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRedisStore_Versions(t *testing.T) {
	_, s := setupRedisStore(t)
	ctx := context.Background()

	v, err := s.Versions(ctx, []string{"group:a", "ref:region:ID-JK"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, v)

	require.NoError(t, s.Bump(ctx, []string{"group:a", "ref:region:ID-JK"}))
	require.NoError(t, s.Bump(ctx, []string{"group:a"}))

	v, err = s.Versions(ctx, []string{"ref:region:ID-JK", "group:a"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, v)

	empty, err := s.Versions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, s.Bump(ctx, nil))
}

func TestRedisStore_UnavailableServer(t *testing.T) {
	mr, s := setupRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	mr.Close()

	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cache.ErrMiss)
	assert.Error(t, s.Bump(ctx, []string{"group:a"}))
}
