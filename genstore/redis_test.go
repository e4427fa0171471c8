package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisBumpSnapshotAdvance(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	s := NewRedisGenStore(rdb, "test")

	g, err := s.Snapshot(ctx, "orders/42")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), g)

	g, err = s.Bump(ctx, "orders/42")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g)

	g, err = s.Advance(ctx, "orders/42", 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), g)

	g, err = s.Advance(ctx, "orders/42", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), g, "advance must not lower")

	g, err = s.Snapshot(ctx, "orders/42")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), g)
}

func TestRedisSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	a := NewRedisGenStore(rdb, "shared")
	b := NewRedisGenStore(rdb, "shared")

	_, err := a.Bump(ctx, "k")
	require.NoError(t, err)
	g, err := b.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), g)
}

func TestRedisTTLExpires(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewRedisGenStoreWithTTL(rdb, "ttl", time.Minute)

	_, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), g)
}

func TestRedisSnapshotParseError(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewRedisGenStore(rdb, "bad")
	require.NoError(t, mr.Set("gen:bad:k", "not-a-number"))

	_, err := s.Snapshot(ctx, "k")
	assert.Error(t, err)
}
