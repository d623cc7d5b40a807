package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"fincon/internal/log"
)

// Invalidation describes entries dropped from a QueryCache. It is the
// payload broadcast to other instances.
type Invalidation struct {
	Scope string `json:"scope"`
	Keys  []Key  `json:"keys,omitempty"`
	Kinds []Kind `json:"kinds,omitempty"`
}

// Empty reports whether the invalidation would drop nothing.
func (inv Invalidation) Empty() bool {
	return len(inv.Keys) == 0 && len(inv.Kinds) == 0
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// QueryCache memoizes backend reads by Key.
//
// Concurrent misses for the same key share a single load. Every
// invalidation bumps a generation counter; a load that started before an
// invalidation returns its result to its callers but never stores it.
type QueryCache struct {
	entries     *LRUCache[any]
	group       singleflight.Group
	logger      *log.Logger
	loadTimeout time.Duration

	mu sync.Mutex
	// epoch changes whenever the generation maps are reset, so loads that
	// began before a reset never store.
	epoch    uint64
	keyGen   map[string]uint64
	kindGen  map[string]uint64
	listener func(Invalidation)

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

type generation struct {
	epoch uint64
	key   uint64
	kind  uint64
}

// DefaultLoadTimeout bounds a shared load once it no longer follows the
// context of the caller that started it.
const DefaultLoadTimeout = 30 * time.Second

// NewQueryCache creates a cache holding up to maxEntries results, each
// fresh for staleAfter.
func NewQueryCache(maxEntries int, staleAfter time.Duration, logger *log.Logger) *QueryCache {
	if logger == nil {
		logger = log.Discard()
	}
	return &QueryCache{
		entries:     NewLRUCache[any](maxEntries, staleAfter),
		logger:      logger.WithComponent(log.ComponentCache),
		loadTimeout: DefaultLoadTimeout,
		keyGen:      make(map[string]uint64),
		kindGen:     make(map[string]uint64),
	}
}

// OnInvalidate registers fn to receive every local invalidation.
// Invalidations applied through Apply are not reported.
func (q *QueryCache) OnInvalidate(fn func(Invalidation)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listener = fn
}

// Fetch returns the cached value for key or runs load on a miss.
//
// The load is shared by every caller missing on the same key and runs
// detached from their cancellation, bounded by the load timeout. A caller
// whose ctx ends stops waiting without affecting the others.
func Fetch[T any](ctx context.Context, q *QueryCache, key Key, load func(context.Context) (T, error)) (T, error) {
	k := key.String()
	if v, ok := q.entries.Get(k); ok {
		if t, ok := v.(T); ok {
			q.hits.Add(1)
			return t, nil
		}
	}
	q.misses.Add(1)

	gen := q.generation(key)
	flight := fmt.Sprintf("%s#%d.%d.%d", k, gen.epoch, gen.key, gen.kind)
	ch := q.group.DoChan(flight, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.loadTimeout)
		defer cancel()
		res, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		q.store(key, k, gen, res)
		return res, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

// Set stores a value directly, e.g. the result of a mutation.
func (q *QueryCache) Set(key Key, v any) {
	q.entries.Set(key.String(), v)
}

func (q *QueryCache) generation(key Key) generation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return generation{
		epoch: q.epoch,
		key:   q.keyGen[key.String()],
		kind:  q.kindGen[kindPrefix(key.Scope, key.Kind)],
	}
}

func (q *QueryCache) store(key Key, k string, gen generation, v any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.epoch != gen.epoch || q.keyGen[k] != gen.key || q.kindGen[kindPrefix(key.Scope, key.Kind)] != gen.kind {
		q.logger.Debug("Discarding result invalidated while loading", log.FieldCacheKey, k)
		return
	}
	q.entries.Set(k, v)
}

// Invalidate drops the given keys and reports the change to the listener.
func (q *QueryCache) Invalidate(keys ...Key) {
	if len(keys) == 0 {
		return
	}
	inv := Invalidation{Scope: keys[0].Scope, Keys: keys}
	q.apply(inv)
	q.notify(inv)
}

// InvalidateKind drops every entry of the given kinds within scope.
func (q *QueryCache) InvalidateKind(scope string, kinds ...Kind) {
	if len(kinds) == 0 {
		return
	}
	inv := Invalidation{Scope: scope, Kinds: kinds}
	q.apply(inv)
	q.notify(inv)
}

// InvalidateAll applies inv locally and reports it to the listener.
func (q *QueryCache) InvalidateAll(inv Invalidation) {
	if inv.Empty() {
		return
	}
	q.apply(inv)
	q.notify(inv)
}

// Apply drops the entries named by an invalidation received from another
// instance without reporting it again.
func (q *QueryCache) Apply(inv Invalidation) {
	q.apply(inv)
}

func (q *QueryCache) apply(inv Invalidation) {
	q.mu.Lock()
	for _, key := range inv.Keys {
		k := key.String()
		q.keyGen[k]++
		q.entries.Delete(k)
	}
	for _, kind := range inv.Kinds {
		p := kindPrefix(inv.Scope, kind)
		q.kindGen[p]++
		q.entries.DeletePrefix(p)
	}
	q.mu.Unlock()

	q.invalidations.Add(uint64(len(inv.Keys) + len(inv.Kinds)))
	q.logger.Debug("Cache invalidated",
		log.FieldCacheScope, inv.Scope,
		"keys", len(inv.Keys),
		"kinds", len(inv.Kinds))
}

func (q *QueryCache) notify(inv Invalidation) {
	q.mu.Lock()
	fn := q.listener
	q.mu.Unlock()
	if fn != nil {
		fn(inv)
	}
}

// CleanExpired implements Cleaner. It also resets the generation counters,
// which otherwise grow with every key ever invalidated.
func (q *QueryCache) CleanExpired() int {
	q.mu.Lock()
	if len(q.keyGen) > 0 || len(q.kindGen) > 0 {
		q.epoch++
		clear(q.keyGen)
		clear(q.kindGen)
	}
	q.mu.Unlock()
	return q.entries.CleanExpired()
}

func (q *QueryCache) trackedGenerations() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keyGen) + len(q.kindGen)
}

// Stats returns current counters.
func (q *QueryCache) Stats() Stats {
	return Stats{
		Entries:       q.entries.Size(),
		Hits:          q.hits.Load(),
		Misses:        q.misses.Load(),
		Invalidations: q.invalidations.Load(),
	}
}
