package redis_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/redis/redistest"
	redisrepo "github.com/kirinyoku/reservo/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerations_IncrementShared(t *testing.T) {
	rdb := redistest.NewClient(t)
	ctx := context.Background()

	a := redisrepo.NewGenerations(rdb)
	b := redisrepo.NewGenerations(rdb)

	g, err := a.Current(ctx, cache.TagReservations)
	require.NoError(t, err)
	assert.Zero(t, g)

	g, err = a.Bump(ctx, cache.TagReservations)
	require.NoError(t, err)
	assert.EqualValues(t, 1, g)

	g, err = b.Current(ctx, cache.TagReservations)
	require.NoError(t, err)
	assert.EqualValues(t, 1, g)
}

func TestLayer_RedisBackedAcrossInstances(t *testing.T) {
	rdb := redistest.NewClient(t)
	ctx := context.Background()

	newLayer := func() *cache.Layer {
		return cache.New(redisrepo.NewGenerations(rdb), redisrepo.NewPayloads(rdb, time.Minute))
	}
	one, two := newLayer(), newLayer()

	var calls atomic.Int64
	compute := func(context.Context) (int64, error) {
		return calls.Add(1), nil
	}

	v, err := cache.ReadThrough(ctx, one, cache.TagReservations, "count", compute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = cache.ReadThrough(ctx, two, cache.TagReservations, "count", compute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v, "second instance reads the shared payload")

	require.NoError(t, one.Invalidate(ctx, cache.TagReservations))

	v, err = cache.ReadThrough(ctx, two, cache.TagReservations, "count", compute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestSlidingWindowLimiter(t *testing.T) {
	rdb := redistest.NewClient(t)
	ctx := context.Background()

	l := redisrepo.NewSlidingWindowLimiter(rdb, "submit", 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Positive(t, retry)

	ok, _, err = l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyStore(t *testing.T) {
	rdb := redistest.NewClient(t)
	ctx := context.Background()

	s := redisrepo.NewIdempotencyStore(rdb, time.Minute)
	key := s.Key("user-1", "abc")

	got, err := s.AcquireLock(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = s.AcquireLock(ctx, key, time.Second)
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, s.SaveResult(ctx, key, `{"id":"r1"}`))

	res, ok, err := s.GetResult(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"r1"}`, res)
}
