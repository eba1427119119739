package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lborres/kapitbahay/core"
)

// Memory is an in-memory TTL cache with a size cap and counters.
//
// OnEvict, when set, runs for every entry that leaves the cache without an
// explicit Delete (TTL expiry, capacity eviction, Clear). It runs outside the
// cache lock.
type Memory[V any] struct {
	entries map[string]*record[V]
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	OnEvict func(key string, value V)

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

type record[V any] struct {
	value    V
	cachedAt time.Time
}

// NewMemory creates a new in-memory cache
func NewMemory[V any](c core.CacheConfig) *Memory[V] {
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxSize == 0 {
		c.MaxSize = 500
	}

	return &Memory[V]{
		entries: make(map[string]*record[V]),
		ttl:     c.TTL,
		maxSize: c.MaxSize,
		now:     time.Now,
	}
}

// Get returns the value for key. Expired entries are evicted and reported
// as core.ErrCacheNotFound.
func (c *Memory[V]) Get(key string) (V, error) {
	var zero V

	c.mu.RLock()
	rec, exists := c.entries[key]
	var cachedAt time.Time
	if exists {
		cachedAt = rec.cachedAt
	}
	c.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return zero, core.ErrCacheNotFound
	}

	if c.now().Sub(cachedAt) > c.ttl {
		atomic.AddInt64(&c.misses, 1)
		c.evict(key, rec)
		return zero, core.ErrCacheNotFound
	}

	atomic.AddInt64(&c.hits, 1)
	return rec.value, nil
}

// Touch refreshes the TTL of key without replacing its value
func (c *Memory[V]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key]
	if ok {
		rec.cachedAt = c.now()
	}
	return ok
}

// Set stores value under key
func (c *Memory[V]) Set(key string, value V) error {
	var victims []evicted[V]

	c.mu.Lock()
	// Simple eviction if full
	if _, replacing := c.entries[key]; !replacing && len(c.entries) >= c.maxSize {
		for k, rec := range c.entries {
			delete(c.entries, k)
			atomic.AddInt64(&c.evictions, 1)
			victims = append(victims, evicted[V]{k, rec.value})
			break
		}
	}

	c.entries[key] = &record[V]{
		value:    value,
		cachedAt: c.now(),
	}
	c.mu.Unlock()

	atomic.AddInt64(&c.sets, 1)
	c.notify(victims)
	return nil
}

// Delete removes key without running OnEvict
func (c *Memory[V]) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.entries[key]; existed {
		delete(c.entries, key)
		atomic.AddInt64(&c.deletes, 1)
	}
	return nil
}

// Clear removes every entry, running OnEvict for each
func (c *Memory[V]) Clear() error {
	c.mu.Lock()
	victims := make([]evicted[V], 0, len(c.entries))
	for k, rec := range c.entries {
		victims = append(victims, evicted[V]{k, rec.value})
	}
	c.entries = make(map[string]*record[V])
	c.mu.Unlock()

	c.notify(victims)
	return nil
}

// Sweep evicts every expired entry and returns how many were removed
func (c *Memory[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var victims []evicted[V]
	for k, rec := range c.entries {
		if now.Sub(rec.cachedAt) > c.ttl {
			delete(c.entries, k)
			atomic.AddInt64(&c.evictions, 1)
			victims = append(victims, evicted[V]{k, rec.value})
		}
	}
	c.mu.Unlock()

	c.notify(victims)
	return len(victims)
}

// Len returns the number of cached entries
func (c *Memory[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Memory[V]) Stats() core.CacheStats {
	return core.CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}

type evicted[V any] struct {
	key   string
	value V
}

func (c *Memory[V]) evict(key string, rec *record[V]) {
	c.mu.Lock()
	// another goroutine may have replaced or touched the entry since the read
	current, ok := c.entries[key]
	if !ok || current != rec || c.now().Sub(current.cachedAt) <= c.ttl {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()

	atomic.AddInt64(&c.evictions, 1)
	c.notify([]evicted[V]{{key, rec.value}})
}

func (c *Memory[V]) notify(victims []evicted[V]) {
	if c.OnEvict == nil {
		return
	}
	for _, v := range victims {
		c.OnEvict(v.key, v.value)
	}
}
