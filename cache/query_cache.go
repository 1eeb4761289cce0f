// Package cache holds the client side query cache.
//
// Entries are tagged with a generation. Invalidate only bumps the generation and marks
// the entry stale; the next Read refetches. A fetch that started before an
// invalidation is discarded when it returns, and exactly one more fetch runs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"convo-lab/errors"
)

// Fetch loads the authoritative value of one key.
type Fetch[V any] func(ctx context.Context) (V, error)

// Stats counts what happened to one key.
type Stats struct {
	Hits      int
	Fetches   int
	Discarded int
	Failures  int
}

type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

type entry[V any] struct {
	value      V
	loaded     bool
	stale      bool
	generation uint64
	inflight   *call[V]
	stats      Stats
}

// QueryCache is safe for concurrent use. The mutex only guards the entry map and is
// never held while a fetch runs. Cached values are shared between readers and must be
// treated as read only.
type QueryCache[K comparable, V any] struct {
	mu      sync.Mutex
	name    string
	log     *slog.Logger
	entries map[K]*entry[V]
	// base outlives every caller; Close cancels it and with it every fetch.
	base context.Context
	stop context.CancelFunc
}

func NewQueryCache[K comparable, V any](name string, log *slog.Logger) *QueryCache[K, V] {
	base, stop := context.WithCancel(context.Background())
	return &QueryCache[K, V]{name: name, log: log, entries: make(map[K]*entry[V]), base: base, stop: stop}
}

func (c *QueryCache[K, V]) lookup(key K) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

// Read returns the fresh value of key, or joins or starts the single fetch of it.
// The fetch keeps the values of ctx but not its cancellation: a caller that gives up
// does not cancel it for the others. Only Close does.
func (c *QueryCache[K, V]) Read(ctx context.Context, key K, fetch Fetch[V]) (V, error) {
	c.mu.Lock()
	e := c.lookup(key)
	if e.loaded && !e.stale {
		e.stats.Hits++
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	cl := e.inflight
	if cl == nil {
		cl = &call[V]{done: make(chan struct{})}
		e.inflight = cl
		go c.run(ctx, key, e, cl, fetch)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		var zero V
		return zero, errors.Transient(ctx.Err())
	}
}

// fetchContext detaches ctx from its caller and ties it to the cache lifetime.
func (c *QueryCache[K, V]) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.base, cancel)
	if c.base.Err() != nil {
		cancel()
	}
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *QueryCache[K, V]) run(ctx context.Context, key K, e *entry[V], cl *call[V], fetch Fetch[V]) {
	defer close(cl.done)
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()

	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		generation := e.generation
		e.stats.Fetches++
		c.mu.Unlock()

		value, err := safeFetch(ctx, fetch)

		c.mu.Lock()
		if err != nil {
			e.stats.Failures++
			e.inflight = nil
			c.mu.Unlock()
			c.log.Debug("Query fetch failed", "cache", c.name, "key", key, "error", err)
			cl.err = err
			return
		}
		if generation != e.generation && attempt == 0 {
			e.stats.Discarded++
			c.mu.Unlock()
			c.log.Debug("Stale query result discarded", "cache", c.name, "key", key)
			continue
		}
		// The follow-up result is delivered even if invalidated again meanwhile,
		// but kept stale so that the next read refetches.
		e.value = value
		e.loaded = true
		e.stale = generation != e.generation
		e.inflight = nil
		c.mu.Unlock()
		cl.value = value
		return
	}
}

func safeFetch[V any](ctx context.Context, fetch Fetch[V]) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: query fetch: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return fetch(ctx)
}

// Invalidate marks key stale. It never fetches.
func (c *QueryCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.generation++
	e.stale = true
}

// Peek returns the cached value without fetching, and whether it is fresh.
func (c *QueryCache[K, V]) Peek(key K) (value V, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || !e.loaded {
		return value, false, false
	}
	return e.value, !e.stale, true
}

func (c *QueryCache[K, V]) Stats(key K) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.stats
	}
	return Stats{}
}

// Purge drops every entry. Fetches in flight complete for their waiters only.
func (c *QueryCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Close cancels the fetches in flight and every later one. Waiters get the fetch error.
func (c *QueryCache[K, V]) Close() {
	c.stop()
	c.Purge()
}

func (c *QueryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
