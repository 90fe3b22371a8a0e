// Package cache keeps derived read views consistent with writes through
// per-tag generation counters. A payload is served only while the generation
// it was computed under is still current; invalidating a tag bumps the
// counter. A tag whose bump failed is served uncached until a later bump
// succeeds.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Generations maps tags to monotonically increasing counters.
type Generations interface {
	Current(ctx context.Context, tag string) (uint64, error)
	Bump(ctx context.Context, tag string) (uint64, error)
}

// Payloads stores encoded views keyed by tag, key and generation.
type Payloads interface {
	Get(ctx context.Context, tag, key string, gen uint64) ([]byte, bool, error)
	Set(ctx context.Context, tag, key string, gen uint64, val []byte) error
}

// Evictor is implemented by payload stores that can drop superseded
// generations eagerly.
type Evictor interface {
	EvictTag(tag string)
	EvictAll()
}

// Bus fans invalidations out to other instances.
type Bus interface {
	Publish(ctx context.Context, tags ...string) error
}

type Layer struct {
	gens     Generations
	payloads Payloads
	bus      Bus
	log      *slog.Logger

	sf singleflight.Group

	// stale holds tags whose last bump failed, mapped to a mark token.
	stale     sync.Map
	staleMark atomic.Uint64
}

// tagEpoch is folded into every payload key; bumping it drops all views.
const tagEpoch = "*"

type Option func(*Layer)

// WithBus publishes every local invalidation on b.
func WithBus(b Bus) Option {
	return func(l *Layer) { l.bus = b }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Layer) { l.log = log }
}

func New(gens Generations, payloads Payloads, opts ...Option) *Layer {
	l := &Layer{
		gens:     gens,
		payloads: payloads,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewLocal returns a layer backed by in-process generations and a bounded
// in-process payload store with default limits.
func NewLocal(opts ...Option) *Layer {
	return New(NewLocalGenerations(), NewLocalPayloads(DefaultMaxEntries, DefaultPayloadTTL), opts...)
}

// Invalidate bumps every tag and then publishes them on the bus. It returns
// once all local bumps are visible to subsequent reads.
func (l *Layer) Invalidate(ctx context.Context, tags ...string) error {
	const op = "cache.Layer.Invalidate"

	bumpErr := l.bump(ctx, tags)

	if l.bus != nil && len(tags) > 0 {
		if err := l.bus.Publish(ctx, tags...); err != nil {
			l.log.Warn("cache invalidation publish failed", "op", op, "tags", tags, "err", err)
		}
	}

	if bumpErr != nil {
		return fmt.Errorf("%s: %w", op, bumpErr)
	}

	return nil
}

// Apply bumps tags received from another instance without republishing.
func (l *Layer) Apply(ctx context.Context, tags ...string) error {
	const op = "cache.Layer.Apply"

	if err := l.bump(ctx, tags); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Reset invalidates every view regardless of tag.
func (l *Layer) Reset(ctx context.Context) error {
	return l.Invalidate(ctx, tagEpoch)
}

// ResetLocal drops every view of this instance without publishing, for when
// remote invalidations may have been missed.
func (l *Layer) ResetLocal(ctx context.Context) error {
	return l.Apply(ctx, tagEpoch)
}

// Repair retries the bumps that failed earlier. It returns the number of
// tags still pending.
func (l *Layer) Repair(ctx context.Context) int {
	pending := 0
	l.stale.Range(func(k, _ any) bool {
		if err := l.bump(ctx, []string{k.(string)}); err != nil {
			pending++
		}
		return ctx.Err() == nil
	})
	return pending
}

// Stale reports whether tag is waiting for a successful bump.
func (l *Layer) Stale(tag string) bool {
	_, ok := l.stale.Load(tag)
	return ok
}

func (l *Layer) bump(ctx context.Context, tags []string) error {
	var errs []error
	for _, tag := range tags {
		mark, marked := l.stale.Load(tag)

		if _, err := l.gens.Bump(ctx, tag); err != nil {
			l.stale.Store(tag, l.staleMark.Add(1))
			errs = append(errs, fmt.Errorf("bump %s: %w", tag, err))
			continue
		}

		// a failure recorded after our load belongs to a later write
		if marked {
			l.stale.CompareAndDelete(tag, mark)
		}
		l.evict(tag)
	}
	return errors.Join(errs...)
}

func (l *Layer) evict(tag string) {
	ev, ok := l.payloads.(Evictor)
	if !ok {
		return
	}
	if tag == tagEpoch {
		ev.EvictAll()
		return
	}
	ev.EvictTag(tag)
}

// generation returns the current generation of tag, first retrying a bump
// that failed earlier.
func (l *Layer) generation(ctx context.Context, tag string) (uint64, error) {
	if l.Stale(tag) {
		if err := l.bump(ctx, []string{tag}); err != nil {
			return 0, err
		}
	}
	return l.gens.Current(ctx, tag)
}

// ReadThrough returns the view stored under the current generation of tag,
// or computes and stores it. The result is stored under the generation read
// before compute ran, so a write that lands mid-compute makes it unreachable.
// Concurrent misses for the same generation and key share one compute call.
func ReadThrough[T any](
	ctx context.Context,
	l *Layer,
	tag, key string,
	compute func(ctx context.Context) (T, error),
) (T, error) {
	const op = "cache.ReadThrough"

	gen, err := l.generation(ctx, tag)
	if err == nil {
		var epoch uint64
		if epoch, err = l.generation(ctx, tagEpoch); err == nil {
			key = "e" + strconv.FormatUint(epoch, 10) + ":" + key
		}
	}
	if err != nil {
		l.log.Warn("cache generation unavailable, bypassing", "op", op, "tag", tag, "err", err)
		return compute(ctx)
	}

	if raw, ok, err := l.payloads.Get(ctx, tag, key, gen); err != nil {
		l.log.Warn("cache payload read failed", "op", op, "tag", tag, "key", key, "err", err)
	} else if ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}

	sfKey := tag + "|" + strconv.FormatUint(gen, 10) + "|" + key

	vAny, err, _ := l.sf.Do(sfKey, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: encode: %w", op, err)
		}

		if err := l.payloads.Set(ctx, tag, key, gen, raw); err != nil {
			l.log.Warn("cache payload write failed", "op", op, "tag", tag, "key", key, "err", err)
		}

		return raw, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	// each caller decodes its own copy so shared results are never aliased
	var out T
	if err := json.Unmarshal(vAny.([]byte), &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: decode: %w", op, err)
	}

	return out, nil
}
