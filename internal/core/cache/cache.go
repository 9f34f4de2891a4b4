package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// FetchFunc produces a fresh payload on a cache miss.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Options tunes one GetOrFetch call.
type Options struct {
	// FreshnessWindow is the maximum acceptable age of a cached value. Zero
	// accepts any age.
	FreshnessWindow time.Duration
	// ForceRefresh skips both tiers and refetches. It still joins a fetch
	// already in flight for the same key.
	ForceRefresh bool
}

// flight is one in-progress resolution shared by every caller of a key.
type flight struct {
	done    chan struct{}
	data    json.RawMessage
	err     error
	waiters int
}

func (f *flight) wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return slices.Clone(f.data), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache is the two-tier result cache with per-key request coalescing.
// The in-flight table and both tiers are only mutated by the resolving
// fetch, so concurrent callers never observe a torn entry.
type Cache struct {
	mu       sync.Mutex
	inflight map[string]*flight

	memory  *memoryTier
	durable Durable

	capacity uint64
	clock    func() time.Time
	logger   *zap.Logger
	stats    counters
}

// Option configures a Cache.
type Option func(*Cache)

// WithDurable sets the persistent tier. Without one the cache is memory only.
func WithDurable(d Durable) Option {
	return func(c *Cache) { c.durable = d }
}

// WithMemoryCapacity bounds the number of in-process entries.
func WithMemoryCapacity(n uint64) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithClock overrides the time source used to stamp and age entries.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger for durable-tier diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		inflight: make(map[string]*flight),
		capacity: DefaultMemoryCapacity,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.memory = newMemoryTier(c.capacity)
	return c
}

// GetOrFetch returns the cached payload for (namespace, key), running fetch
// at most once concurrently per key on a miss. The fetch is detached from
// the first caller's cancellation; each caller stops waiting when its own
// ctx is done. Fetch errors reach every waiter as *FetchError and nothing
// is cached.
func (c *Cache) GetOrFetch(ctx context.Context, namespace, key string, opts Options, fetch FetchFunc) (json.RawMessage, error) {
	if namespace == "" || key == "" {
		return nil, ErrInvalidKey
	}
	if fetch == nil {
		return nil, errors.New("fetch function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := memoryID(namespace, key)

	c.mu.Lock()
	if opts.ForceRefresh {
		c.memory.delete(id)
	}
	if fl, ok := c.inflight[id]; ok {
		fl.waiters++
		c.mu.Unlock()
		c.stats.coalesced.Add(1)
		return fl.wait(ctx)
	}
	if !opts.ForceRefresh {
		if entry, ok := c.memory.get(id); ok && entry.FreshWithin(opts.FreshnessWindow, c.clock()) {
			c.mu.Unlock()
			c.stats.memoryHits.Add(1)
			return slices.Clone(entry.Data), nil
		}
	}
	fl := &flight{done: make(chan struct{}), waiters: 1}
	c.inflight[id] = fl
	c.mu.Unlock()

	go c.resolve(context.WithoutCancel(ctx), id, namespace, key, opts, fetch, fl)
	return fl.wait(ctx)
}

// GetOrFetchJSON is GetOrFetch for typed payloads.
func GetOrFetchJSON[T any](ctx context.Context, c *Cache, namespace, key string, opts Options, fetch func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.GetOrFetch(ctx, namespace, key, opts, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode cached %s/%s: %w", namespace, key, err)
	}
	return out, nil
}

// Invalidate drops key from both tiers and reports whether a durable copy
// existed.
func (c *Cache) Invalidate(ctx context.Context, namespace, key string) (bool, error) {
	if namespace == "" || key == "" {
		return false, ErrInvalidKey
	}
	c.mu.Lock()
	c.memory.delete(memoryID(namespace, key))
	c.mu.Unlock()

	if c.durable == nil {
		return false, nil
	}
	return c.durable.Delete(ctx, namespace, key)
}

// List returns durable entries for namespace, or for all namespaces when
// namespace is empty.
func (c *Cache) List(ctx context.Context, namespace string) ([]core.CacheEntry, error) {
	if c.durable == nil {
		return nil, nil
	}
	return c.durable.List(ctx, namespace)
}

// DropMemory empties the in-process tier. Durable entries are kept.
func (c *Cache) DropMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory.clear()
}

// Stats returns activity counters and current sizes.
func (c *Cache) Stats() Stats {
	s := c.stats.snapshot()
	c.mu.Lock()
	s.InFlight = len(c.inflight)
	c.mu.Unlock()
	s.MemoryEntries = c.memory.len()
	return s
}

func (c *Cache) resolve(ctx context.Context, id, namespace, key string, opts Options, fetch FetchFunc, fl *flight) {
	data, err := c.load(ctx, id, namespace, key, opts, fetch)

	c.mu.Lock()
	delete(c.inflight, id)
	waiters := fl.waiters
	c.mu.Unlock()

	fl.data, fl.err = data, err
	close(fl.done)

	if waiters > 1 {
		c.logger.Debug("coalesced fetch resolved",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Int("waiters", waiters),
			zap.Bool("error", err != nil))
	}
}

func (c *Cache) load(ctx context.Context, id, namespace, key string, opts Options, fetch FetchFunc) (json.RawMessage, error) {
	if !opts.ForceRefresh && c.durable != nil {
		entry, ok, err := c.durable.Load(ctx, namespace, key)
		switch {
		case err != nil:
			c.stats.durableErrors.Add(1)
			c.logger.Warn("durable cache read failed",
				zap.String("namespace", namespace),
				zap.String("key", key),
				zap.Error(err))
		case ok && entry.FreshWithin(opts.FreshnessWindow, c.clock()):
			c.setMemory(id, entry)
			c.stats.durableHits.Add(1)
			return entry.Data, nil
		}
	}

	c.stats.misses.Add(1)
	data, err := invoke(ctx, fetch)
	if err != nil {
		c.stats.fetchErrors.Add(1)
		return nil, &FetchError{Namespace: namespace, Key: key, Err: err}
	}

	entry := core.CacheEntry{
		Namespace: namespace,
		Key:       key,
		SavedAt:   c.clock(),
		Data:      data,
	}
	c.setMemory(id, entry)
	c.persist(ctx, entry)
	return data, nil
}

func (c *Cache) setMemory(id string, entry core.CacheEntry) {
	c.mu.Lock()
	c.memory.set(id, entry)
	c.mu.Unlock()
}

// persist writes entry to the durable tier and removes entries stored under
// the adjacent time-window keys. Durable failures are logged, not returned:
// the caller already has a valid payload.
func (c *Cache) persist(ctx context.Context, entry core.CacheEntry) {
	if c.durable == nil {
		return
	}
	if err := c.durable.Save(ctx, entry); err != nil {
		c.stats.durableErrors.Add(1)
		c.logger.Warn("durable cache write failed",
			zap.String("namespace", entry.Namespace),
			zap.String("key", entry.Key),
			zap.Error(err))
		return
	}

	for _, adj := range AdjacentKeys(entry.Key) {
		c.mu.Lock()
		c.memory.delete(memoryID(entry.Namespace, adj))
		c.mu.Unlock()

		removed, err := c.durable.Delete(ctx, entry.Namespace, adj)
		if err != nil {
			c.stats.durableErrors.Add(1)
			c.logger.Warn("adjacent cache cleanup failed",
				zap.String("namespace", entry.Namespace),
				zap.String("key", adj),
				zap.Error(err))
			continue
		}
		if removed {
			c.stats.cleanupRemovals.Add(1)
			c.logger.Debug("removed adjacent cache entry",
				zap.String("namespace", entry.Namespace),
				zap.String("key", adj),
				zap.String("canonical", entry.Key))
		}
	}
}

func invoke(ctx context.Context, fetch FetchFunc) (data json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fetch panicked: %v", p)
		}
	}()

	data, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("fetch returned invalid JSON")
	}
	return data, nil
}
