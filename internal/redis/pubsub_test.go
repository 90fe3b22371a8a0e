package redisx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	redisx "github.com/kirinyoku/reservo/internal/redis"
	"github.com/kirinyoku/reservo/internal/redis/redistest"
	"github.com/stretchr/testify/assert"
)

func TestInvalidationBus_SkipsOwnMessages(t *testing.T) {
	rdb := redistest.NewClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := redisx.NewInvalidationBus(rdb, "a")
	remote := redisx.NewInvalidationBus(rdb, "b")

	var mu sync.Mutex
	var got [][]string

	go func() {
		_ = local.Subscribe(ctx, func(_ context.Context, tags []string) {
			mu.Lock()
			got = append(got, tags)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		_ = local.Publish(ctx, "self")
		_ = remote.Publish(ctx, "reservations", "facility:f1")

		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, tags := range got {
		assert.Equal(t, []string{"reservations", "facility:f1"}, tags)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "reservo:v1:gen:facility:f1", redisx.KeyGeneration("facility:f1"))
	assert.Equal(t, "reservo:v1:view:reservations:g7:count:", redisx.KeyView("reservations", 7, "count:"))
}
