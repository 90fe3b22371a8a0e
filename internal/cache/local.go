package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultMaxEntries = 10_000
	DefaultPayloadTTL = 10 * time.Minute
)

// LocalGenerations keeps counters in process memory. A tag gets a counter
// on its first bump; reading an unknown tag allocates nothing.
type LocalGenerations struct {
	m sync.Map
}

func NewLocalGenerations() *LocalGenerations {
	return &LocalGenerations{}
}

func (g *LocalGenerations) Current(_ context.Context, tag string) (uint64, error) {
	if c, ok := g.m.Load(tag); ok {
		return c.(*atomic.Uint64).Load(), nil
	}
	return 0, nil
}

func (g *LocalGenerations) Bump(_ context.Context, tag string) (uint64, error) {
	c, _ := g.m.LoadOrStore(tag, new(atomic.Uint64))
	return c.(*atomic.Uint64).Add(1), nil
}

type localEntry struct {
	tag     string
	gen     uint64
	val     []byte
	expires time.Time
}

// LocalPayloads is a size-bounded LRU of views, one entry per (tag, key).
// Entries expire after ttl and are dropped eagerly when their tag is bumped.
type LocalPayloads struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, localEntry]
	byTag map[string]map[string]struct{}
	ttl   time.Duration
	now   func() time.Time
}

func NewLocalPayloads(maxEntries int, ttl time.Duration) *LocalPayloads {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultPayloadTTL
	}

	p := &LocalPayloads{
		byTag: make(map[string]map[string]struct{}),
		ttl:   ttl,
		now:   time.Now,
	}

	// NewLRU only fails for a non-positive size.
	p.lru, _ = simplelru.NewLRU[string, localEntry](maxEntries, p.forget)

	return p
}

// forget runs under p.mu, from inside lru calls.
func (p *LocalPayloads) forget(k string, e localEntry) {
	keys := p.byTag[e.tag]
	delete(keys, k)
	if len(keys) == 0 {
		delete(p.byTag, e.tag)
	}
}

func (p *LocalPayloads) Get(_ context.Context, tag, key string, gen uint64) ([]byte, bool, error) {
	k := tag + "\x00" + key

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.lru.Get(k)
	if !ok {
		return nil, false, nil
	}
	if e.gen < gen || p.now().After(e.expires) {
		p.lru.Remove(k)
		return nil, false, nil
	}
	if e.gen != gen {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (p *LocalPayloads) Set(_ context.Context, tag, key string, gen uint64, val []byte) error {
	k := tag + "\x00" + key

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.lru.Peek(k); ok && e.gen > gen {
		return nil
	}

	p.lru.Add(k, localEntry{tag: tag, gen: gen, val: val, expires: p.now().Add(p.ttl)})

	keys, ok := p.byTag[tag]
	if !ok {
		keys = make(map[string]struct{})
		p.byTag[tag] = keys
	}
	keys[k] = struct{}{}

	return nil
}

func (p *LocalPayloads) EvictTag(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k := range p.byTag[tag] {
		p.lru.Remove(k)
	}
}

func (p *LocalPayloads) EvictAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lru.Purge()
	p.byTag = make(map[string]map[string]struct{})
}

// Len reports the number of stored views.
func (p *LocalPayloads) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Tags reports how many tags currently own at least one view.
func (p *LocalPayloads) Tags() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byTag)
}
