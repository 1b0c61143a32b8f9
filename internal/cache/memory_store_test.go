package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, s.Len())

	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, err = s.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryStore_SetCopiesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStore_Versions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Versions(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0}, v)

	require.NoError(t, s.Bump(ctx, []string{"a"}))
	require.NoError(t, s.Bump(ctx, []string{"a", "b"}))

	v, err = s.Versions(ctx, []string{"b", "a", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0}, v)
}

func TestRefKey_Distinct(t *testing.T) {
	assert.NotEqual(t, refKey("region", "id:jk"), refKey("region:id", "jk"))
	assert.NotEqual(t, refTag("a:b", "c"), refTag("a", "b:c"))
	assert.Equal(t, "region:ID-JK", refKey("region", "ID-JK"))
}
