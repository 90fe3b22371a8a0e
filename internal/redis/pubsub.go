package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationBus broadcasts cache tag bumps between instances.
type InvalidationBus struct {
	rdb     *redis.Client
	channel string
	origin  string
}

func NewInvalidationBus(rdb *redis.Client, origin string) *InvalidationBus {
	return &InvalidationBus{
		rdb:     rdb,
		channel: ChannelInvalidations(),
		origin:  origin,
	}
}

type invalidatedMsg struct {
	Origin string   `json:"origin"`
	Tags   []string `json:"tags"`
	TsUnix int64    `json:"ts_unix"`
}

func (b *InvalidationBus) Publish(ctx context.Context, tags ...string) error {
	const op = "redisx.InvalidationBus.Publish"

	if len(tags) == 0 {
		return nil
	}

	payload, err := json.Marshal(invalidatedMsg{
		Origin: b.origin,
		Tags:   tags,
		TsUnix: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ErrSubscriptionClosed is returned by Subscribe when the server side of
// the subscription goes away. Invalidations published meanwhile are lost.
var ErrSubscriptionClosed = errors.New("invalidation subscription closed")

// Subscribe delivers tags invalidated by other instances until ctx is done.
// Messages published by this instance are skipped.
func (b *InvalidationBus) Subscribe(ctx context.Context, handler func(ctx context.Context, tags []string)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	return b.consume(ctx, sub.Channel(redis.WithChannelSize(256)), handler)
}

func (b *InvalidationBus) consume(ctx context.Context, ch <-chan *redis.Message, handler func(ctx context.Context, tags []string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}

			var msg invalidatedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			if msg.Origin == b.origin || len(msg.Tags) == 0 {
				continue
			}

			handler(ctx, msg.Tags)
		}
	}
}
