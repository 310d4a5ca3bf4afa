package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity means the entry was the least recently used when the
	// cache exceeded its weight capacity.
	EvictCapacity EvictReason = iota
	// EvictExpired means the entry was not accessed within the TTL.
	EvictExpired
	// EvictExplicit means the entry was removed by Remove or Purge.
	EvictExplicit
	// EvictReplaced means Add stored a new value under the same key.
	EvictReplaced
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictExplicit:
		return "explicit"
	case EvictReplaced:
		return "replaced"
	}
	return "unknown"
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits            int64
	Misses          int64
	Evictions       int64
	Weight          int64
	Entries         int
	CapacityReached bool
}

// LRU is a weighted least-recently-used cache.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	ttl       time.Duration
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	onEvict   func(K, V, EvictReason)
	now       func() time.Time

	hits            atomic.Int64
	misses          atomic.Int64
	evictions       atomic.Int64
	capacityReached atomic.Bool
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	weight   int64
	accessed time.Time
}

type evicted[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// NewLRU creates a cache holding at most capacity weight units. A positive
// ttl expires entries not accessed for that long. onEvict may be nil.
func NewLRU[K comparable, V any](capacity int64, ttl time.Duration, onEvict func(K, V, EvictReason)) *LRU[K, V] {
	return &LRU[K, V]{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		onEvict:   onEvict,
		now:       time.Now,
	}
}

// Get returns the value stored under key and marks it as recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var out []evicted[K, V]
	defer func() { c.notify(out) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		now := c.now()
		if c.expired(ent, now) {
			out = append(out, c.removeElement(el, EvictExpired))
		} else {
			c.hits.Add(1)
			ent.accessed = now
			c.evictList.MoveToFront(el)
			return ent.value, true
		}
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Peek returns the value stored under key without marking it as used or
// touching the counters. Expired entries are not returned.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		if !c.expired(ent, c.now()) {
			return ent.value, true
		}
	}
	var zero V
	return zero, false
}

// Add stores value with the given weight and evicts least recently used
// entries until the cache fits its capacity. It returns false, leaving the
// cache unchanged, when weight alone exceeds the capacity.
func (c *LRU[K, V]) Add(key K, value V, weight int64) bool {
	var out []evicted[K, V]
	defer func() { c.notify(out) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if weight > c.capacity {
		c.capacityReached.Store(true)
		return false
	}
	if el, ok := c.items[key]; ok {
		out = append(out, c.removeElement(el, EvictReplaced))
	}
	for c.size+weight > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.capacityReached.Store(true)
		out = append(out, c.removeElement(el, EvictCapacity))
	}

	ent := &entry[K, V]{key: key, value: value, weight: weight, accessed: c.now()}
	c.items[key] = c.evictList.PushFront(ent)
	c.size += weight
	return true
}

// Remove evicts key. It reports whether the key was present.
func (c *LRU[K, V]) Remove(key K) bool {
	var out []evicted[K, V]
	defer func() { c.notify(out) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		out = append(out, c.removeElement(el, EvictExplicit))
	}
	return ok
}

// Purge evicts every entry.
func (c *LRU[K, V]) Purge() {
	var out []evicted[K, V]
	defer func() { c.notify(out) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.evictList.Back(); el != nil; el = c.evictList.Back() {
		out = append(out, c.removeElement(el, EvictExplicit))
	}
}

// CleanUp evicts expired entries.
func (c *LRU[K, V]) CleanUp() {
	if c.ttl <= 0 {
		return
	}
	var out []evicted[K, V]
	defer func() { c.notify(out) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for el := c.evictList.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[K, V]), now) {
			out = append(out, c.removeElement(el, EvictExpired))
		}
		el = prev
	}
}

// Keys returns the cached keys, most recently used first.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.items))
	for el := c.evictList.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the summed weight of all entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the weight capacity.
func (c *LRU[K, V]) Capacity() int64 { return c.capacity }

// Stats returns a snapshot of the counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	weight, entries := c.size, len(c.items)
	c.mu.Unlock()
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Weight:          weight,
		Entries:         entries,
		CapacityReached: c.capacityReached.Load(),
	}
}

func (c *LRU[K, V]) expired(ent *entry[K, V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(ent.accessed) > c.ttl
}

func (c *LRU[K, V]) removeElement(el *list.Element, reason EvictReason) evicted[K, V] {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.weight
	if reason != EvictReplaced {
		c.evictions.Add(1)
	}
	return evicted[K, V]{key: ent.key, value: ent.value, reason: reason}
}

func (c *LRU[K, V]) notify(out []evicted[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range out {
		c.onEvict(e.key, e.value, e.reason)
	}
}
