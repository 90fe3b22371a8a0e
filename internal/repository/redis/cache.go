package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisx "github.com/kirinyoku/reservo/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Generations keeps cache tag counters in Redis so every instance reads the
// same generation.
type Generations struct {
	rdb *redis.Client
}

func NewGenerations(rdb *redis.Client) *Generations {
	return &Generations{rdb: rdb}
}

func (g *Generations) Current(ctx context.Context, tag string) (uint64, error) {
	const op = "redis.Generations.Current"

	n, err := g.rdb.Get(ctx, redisx.KeyGeneration(tag)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (g *Generations) Bump(ctx context.Context, tag string) (uint64, error) {
	const op = "redis.Generations.Bump"

	n, err := g.rdb.Incr(ctx, redisx.KeyGeneration(tag)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// Payloads stores views under generation-scoped keys. The TTL only disposes
// of entries whose generation is no longer current.
type Payloads struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPayloads(rdb *redis.Client, ttl time.Duration) *Payloads {
	return &Payloads{rdb: rdb, ttl: ttl}
}

func (p *Payloads) Get(ctx context.Context, tag, key string, gen uint64) ([]byte, bool, error) {
	const op = "redis.Payloads.Get"

	b, err := p.rdb.Get(ctx, redisx.KeyView(tag, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	return b, true, nil
}

func (p *Payloads) Set(ctx context.Context, tag, key string, gen uint64, val []byte) error {
	const op = "redis.Payloads.Set"

	if err := p.rdb.Set(ctx, redisx.KeyView(tag, gen, key), val, p.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
