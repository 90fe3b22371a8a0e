package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	redisx "github.com/kirinyoku/reservo/internal/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// droppingBus loses its first subscription and holds the second open.
type droppingBus struct {
	calls atomic.Int32
}

func (b *droppingBus) Subscribe(ctx context.Context, _ func(context.Context, []string)) error {
	if b.calls.Add(1) == 1 {
		return redisx.ErrSubscriptionClosed
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWatchInvalidations_ResubscribesAndDropsLocalViews(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	layer := cache.NewLocal()

	var computed atomic.Int32
	read := func() {
		_, err := cache.ReadThrough(ctx, layer, cache.TagReservations, "count", func(context.Context) (int, error) {
			computed.Add(1)
			return 1, nil
		})
		require.NoError(t, err)
	}
	read()

	bus := &droppingBus{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchInvalidations(ctx, bus, layer, quiet, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return bus.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	read()
	assert.EqualValues(t, 2, computed.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

type refusingGens struct {
	*cache.LocalGenerations
	refuse atomic.Bool
}

func (g *refusingGens) Bump(ctx context.Context, tag string) (uint64, error) {
	if g.refuse.Load() {
		return 0, errors.New("unavailable")
	}
	return g.LocalGenerations.Bump(ctx, tag)
}

func TestRepairLoop_ClearsPendingTags(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gens := &refusingGens{LocalGenerations: cache.NewLocalGenerations()}
	layer := cache.New(gens, cache.NewLocalPayloads(0, 0))

	gens.refuse.Store(true)
	require.Error(t, layer.Invalidate(ctx, cache.FacilityTag("f1")))
	require.True(t, layer.Stale(cache.FacilityTag("f1")))

	go repairLoop(ctx, layer, quiet, 5*time.Millisecond)

	gens.refuse.Store(false)
	require.Eventually(t, func() bool { return !layer.Stale(cache.FacilityTag("f1")) }, time.Second, 5*time.Millisecond)
}
