package knnlib

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/knnlib/internal/cache"
	"github.com/hupe1980/knnlib/internal/watcher"
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	// CapacityKB bounds the summed SizeInKB of cached handles. Zero means
	// unbounded.
	CapacityKB int64
	// ExpireAfterAccess drops handles not queried for this long. Zero keeps
	// them until capacity pressure or explicit eviction.
	ExpireAfterAccess time.Duration
	// WatchFiles evicts a handle when its index file is removed or replaced.
	WatchFiles bool
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	HitCount             int64        `json:"hit_count"`
	MissCount            int64        `json:"miss_count"`
	LoadSuccessCount     int64        `json:"load_success_count"`
	LoadExceptionCount   int64        `json:"load_exception_count"`
	TotalLoadTime        int64        `json:"total_load_time"`
	EvictionCount        int64        `json:"eviction_count"`
	GraphMemoryUsageKB   int64        `json:"graph_memory_usage"`
	CacheCapacityReached bool         `json:"cache_capacity_reached"`
	IndicesInCache       int          `json:"indices_in_cache"`
	Indices              []HandleInfo `json:"indices,omitempty"`
}

// Cache keeps loaded handles keyed by index path. Concurrent requests for the
// same path share one load. Evicted handles are closed.
type Cache struct {
	cfg     CacheConfig
	optFns  []Option
	opts    options
	lru     *cache.LRU[string, *Handle]
	group   singleflight.Group
	watcher *watcher.Watcher

	loadSuccess atomic.Int64
	loadErrors  atomic.Int64
	loadNanos   atomic.Int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCache creates a cache. The options are applied to every load.
func NewCache(cfg CacheConfig, optFns ...Option) (*Cache, error) {
	if cfg.CapacityKB < 0 {
		return nil, invalid("capacity", "must not be negative, got %d", cfg.CapacityKB)
	}
	if cfg.ExpireAfterAccess < 0 {
		return nil, invalid("expire_after_access", "must not be negative, got %s", cfg.ExpireAfterAccess)
	}
	capacity := cfg.CapacityKB
	if capacity == 0 {
		capacity = math.MaxInt64
	}

	c := &Cache{
		cfg:    cfg,
		optFns: optFns,
		opts:   applyOptions(optFns),
		stop:   make(chan struct{}),
	}
	c.lru = cache.NewLRU(capacity, cfg.ExpireAfterAccess, c.onEvict)

	if cfg.WatchFiles {
		w, err := watcher.New(c.onFileChange, c.opts.logger.Logger)
		if err != nil {
			return nil, &LibraryError{Op: "watch", Err: err}
		}
		c.watcher = w
	}
	if cfg.ExpireAfterAccess > 0 {
		c.wg.Add(1)
		go c.janitor(cfg.ExpireAfterAccess)
	}
	return c, nil
}

func (c *Cache) janitor(ttl time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(max(ttl/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.lru.CleanUp()
		}
	}
}

func (c *Cache) onEvict(path string, h *Handle, reason cache.EvictReason) {
	if c.watcher != nil && reason != cache.EvictReplaced {
		c.watcher.Unwatch(path)
	}
	_ = h.Close()
	c.opts.metricsCollector.RecordEviction(reason.String())
	c.opts.logger.LogEviction(context.Background(), path, reason.String())
}

func (c *Cache) onFileChange(path string) {
	c.opts.logger.Info("index file changed", "path", path)
	c.lru.Remove(path)
}

// Get returns the cached handle for path, loading it on a miss. The handle
// belongs to the cache and may be closed by eviction at any time; prefer
// Query, which retries on a concurrently evicted handle. An index larger
// than the cache capacity is rejected with ErrResourceExhausted.
func (c *Cache) Get(ctx context.Context, path string, req LoadRequest) (*Handle, error) {
	h, cached, err := c.get(ctx, path, req)
	if err != nil {
		return nil, err
	}
	if !cached {
		size := h.SizeInKB()
		_ = h.Close()
		return nil, fmt.Errorf("%w: index %s needs %d KB, cache capacity is %d KB",
			ErrResourceExhausted, path, size, c.lru.Capacity())
	}
	return h, nil
}

// get reports whether the returned handle is owned by the cache. Handles that
// do not fit are returned uncached and must be closed by the caller.
func (c *Cache) get(ctx context.Context, path string, req LoadRequest) (*Handle, bool, error) {
	key := filepath.Clean(path)
	if h, ok := c.lru.Get(key); ok {
		return h, true, nil
	}

	type loaded struct {
		h      *Handle
		cached bool
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if h, ok := c.lru.Peek(key); ok {
			return loaded{h: h, cached: true}, nil
		}
		start := time.Now()
		h, err := Load(ctx, key, req, c.optFns...)
		c.loadNanos.Add(time.Since(start).Nanoseconds())
		if err != nil {
			c.loadErrors.Add(1)
			return nil, err
		}
		c.loadSuccess.Add(1)

		if !c.lru.Add(key, h, h.SizeInKB()) {
			c.opts.logger.Warn("index exceeds cache capacity",
				"path", key,
				"size_kb", h.SizeInKB(),
				"capacity_kb", c.lru.Capacity(),
			)
			return loaded{h: h}, nil
		}
		if c.watcher != nil {
			if err := c.watcher.Watch(key); err != nil {
				c.opts.logger.Warn("cannot watch index file", "path", key, "error", err)
			}
		}
		return loaded{h: h, cached: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	l := v.(loaded)
	return l.h, l.cached, nil
}

// Query runs a query against the index at path, loading it on a miss.
func (c *Cache) Query(ctx context.Context, path string, req LoadRequest, vector []float32, k int, optFns ...QueryOption) ([]Result, error) {
	for attempt := 0; ; attempt++ {
		h, cached, err := c.get(ctx, path, req)
		if err != nil {
			return nil, err
		}
		res, err := h.Query(ctx, vector, k, optFns...)
		if !cached {
			_ = h.Close()
		}
		if errors.Is(err, ErrClosed) && attempt == 0 {
			continue
		}
		return res, err
	}
}

// Warmup loads every path into the cache. It returns the joined errors of
// the paths that could not be loaded.
func (c *Cache) Warmup(ctx context.Context, req LoadRequest, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Get(ctx, p, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evict closes and drops the handle for path. It reports whether one was
// cached.
func (c *Cache) Evict(path string) bool {
	return c.lru.Remove(filepath.Clean(path))
}

// EvictAll closes and drops every cached handle.
func (c *Cache) EvictAll() {
	c.lru.Purge()
}

// Contains reports whether a handle for path is cached.
func (c *Cache) Contains(path string) bool {
	_, ok := c.lru.Peek(filepath.Clean(path))
	return ok
}

// Stats returns a snapshot of the cache counters and cached indexes.
func (c *Cache) Stats() CacheStats {
	s := c.lru.Stats()
	out := CacheStats{
		HitCount:             s.Hits,
		MissCount:            s.Misses,
		LoadSuccessCount:     c.loadSuccess.Load(),
		LoadExceptionCount:   c.loadErrors.Load(),
		TotalLoadTime:        c.loadNanos.Load(),
		EvictionCount:        s.Evictions,
		GraphMemoryUsageKB:   s.Weight,
		CacheCapacityReached: s.CapacityReached,
		IndicesInCache:       s.Entries,
	}
	for _, key := range c.lru.Keys() {
		if h, ok := c.lru.Peek(key); ok {
			out.Indices = append(out.Indices, h.Info())
		}
	}
	return out
}

// Close evicts every handle and stops background work. It is idempotent.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.lru.Purge()
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}
