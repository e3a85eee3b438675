// Package cache implements the bounded, recency-ordered mapping from asset
// id to cached value that feeds the viewer. It is a direct port of
// original_source/core/cache.py's LRUCache/MemoryAwareLRUCache onto Go's
// container/list (the closest analogue of Python's OrderedDict) guarded by
// a sync.Mutex in place of the source's threading.RLock.
package cache

import (
	"container/list"
	"io"
	"sync"
)

// Stats reports the LRU's current hit/miss/size counters.
type Stats struct {
	Size     int
	MaxSize  int
	Hits     int64
	Misses   int64
	HitRate  float64
}

type entry struct {
	key   string
	value any
}

// LRUCache is a thread-safe mapping id -> value with recency-ordered
// eviction. The zero value is not usable; construct with NewLRUCache.
type LRUCache struct {
	mu      sync.Mutex
	order   *list.List
	index   map[string]*list.Element
	maxSize int
	hits    int64
	misses  int64
}

// NewLRUCache constructs a cache bounded to maxSize entries. maxSize is
// clamped up to 1.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache{
		order:   list.New(),
		index:   make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get returns the value for id, if present, moving it to the
// most-recently-used position and counting a hit. Returns (nil, false) on
// miss, counting a miss.
func (c *LRUCache) Get(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*entry).value, true
	}
	c.misses++
	return nil, false
}

// Put upserts id -> value, evicting least-recently-used entries until size
// is within maxSize. Evicted values that implement io.Closer have Close
// invoked, errors from Close are ignored (matching the source's
// best-effort _safe_close).
func (c *LRUCache) Put(id string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(id, value)
}

func (c *LRUCache) putLocked(id string, value any) {
	if el, ok := c.index[id]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry{key: id, value: value})
		c.index[id] = el
	}
	c.evictLocked()
}

func (c *LRUCache) evictLocked() {
	for c.order.Len() > c.maxSize {
		c.evictOldestLocked()
	}
}

func (c *LRUCache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.index, e.key)
	safeClose(e.value)
}

func safeClose(v any) {
	if closer, ok := v.(io.Closer); ok {
		_ = closer.Close()
	}
}

// GetOrLoad is an atomic read-through: on hit it behaves like Get. On miss
// it invokes loader outside the lock (so other keys aren't stalled), then
// re-checks under the lock for a racing insert — if one won, the
// just-loaded value is closed (if it implements io.Closer) and the cached
// value is returned instead. Returns (value, true) if the value came from
// the cache (either before or after the race check), (value, false) if
// this call's loader supplied the value that was inserted.
func (c *LRUCache) GetOrLoad(id string, loader func() (any, error)) (any, bool, error) {
	c.mu.Lock()
	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		v := el.Value.(*entry).value
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	value, err := loader()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[id]; ok {
		// Lost the race: someone else inserted while we were loading.
		safeClose(value)
		return el.Value.(*entry).value, true, nil
	}
	c.misses++
	c.putLocked(id, value)
	return value, false, nil
}

// Has reports whether id is currently cached, without affecting recency.
func (c *LRUCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// Size returns the current entry count.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear evicts every entry, closing each if it implements io.Closer.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		safeClose(el.Value.(*entry).value)
	}
	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// SetMaxSize updates the capacity, evicting down to it if the new value is
// smaller than the current size.
func (c *LRUCache) SetMaxSize(maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxSize < 1 {
		maxSize = 1
	}
	c.maxSize = maxSize
	c.evictLocked()
}

// Stats returns a snapshot of size/capacity/hit-miss counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *LRUCache) statsLocked() Stats {
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}
