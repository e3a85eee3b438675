package cache

import (
	"container/list"
	"sync"
)

// SizeFunc estimates the byte cost of a cached value. DefaultSizeFunc
// implements the bitmap-aware estimate from §4.5: width * height *
// bytes-per-pixel for anything implementing Sized, else a generic
// estimate.
type SizeFunc func(value any) int64

// Sized is implemented by cached bitmap values so MemoryAwareLRUCache can
// compute an accurate byte cost without decoding pixel data.
type Sized interface {
	// CacheBytes returns the estimated in-memory footprint.
	CacheBytes() int64
}

// DefaultSizeFunc uses Sized.CacheBytes when available, otherwise charges
// a conservative flat estimate of 1 KiB — matching the source's
// sys.getsizeof(obj) fallback in spirit (an approximation, not an
// introspective measurement, since Go has no equivalent primitive).
func DefaultSizeFunc(value any) int64 {
	if s, ok := value.(Sized); ok {
		return s.CacheBytes()
	}
	return 1024
}

// MemoryAwareStats extends Stats with the byte-budget view.
type MemoryAwareStats struct {
	Stats
	MemoryBytes    int64
	MaxMemoryBytes int64
}

type maEntry struct {
	key   string
	value any
	bytes int64
}

// MemoryAwareLRUCache extends the entry-count bound of LRUCache with a
// byte budget. Eviction continues until both the entry count and the byte
// total are within budget; a single inserted value that alone exceeds the
// byte budget is kept as the sole entry (it can never be evicted against
// itself).
type MemoryAwareLRUCache struct {
	mu       sync.Mutex
	order    *list.List
	index    map[string]*list.Element
	maxSize  int
	maxBytes int64
	curBytes int64
	sizeFn   SizeFunc
	hits     int64
	misses   int64
}

// NewMemoryAwareLRUCache constructs a cache bounded by both maxSize entries
// and maxBytes total estimated size. sizeFn may be nil, in which case
// DefaultSizeFunc is used.
func NewMemoryAwareLRUCache(maxSize int, maxBytes int64, sizeFn SizeFunc) *MemoryAwareLRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if sizeFn == nil {
		sizeFn = DefaultSizeFunc
	}
	return &MemoryAwareLRUCache{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxSize:  maxSize,
		maxBytes: maxBytes,
		sizeFn:   sizeFn,
	}
}

func (c *MemoryAwareLRUCache) Get(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		return el.Value.(*maEntry).value, true
	}
	c.misses++
	return nil, false
}

func (c *MemoryAwareLRUCache) Put(id string, value any) {
	size := c.sizeFn(value)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(id, value, size)
}

func (c *MemoryAwareLRUCache) putLocked(id string, value any, size int64) {
	if el, ok := c.index[id]; ok {
		old := el.Value.(*maEntry)
		c.curBytes -= old.bytes
		old.value = value
		old.bytes = size
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&maEntry{key: id, value: value, bytes: size})
		c.index[id] = el
	}
	c.curBytes += size
	c.evictLocked()
}

func (c *MemoryAwareLRUCache) evictLocked() {
	for c.order.Len() > c.maxSize || c.curBytes > c.maxBytes {
		if c.order.Len() <= 1 {
			// A single oversized entry is kept as the sole entry: it
			// cannot be evicted to satisfy its own budget.
			break
		}
		back := c.order.Back()
		e := back.Value.(*maEntry)
		c.order.Remove(back)
		delete(c.index, e.key)
		c.curBytes -= e.bytes
		safeClose(e.value)
	}
}

func (c *MemoryAwareLRUCache) GetOrLoad(id string, loader func() (any, error)) (any, bool, error) {
	c.mu.Lock()
	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		c.hits++
		v := el.Value.(*maEntry).value
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
		safeClose(value)
		return el.Value.(*maEntry).value, true, nil
	}
	c.misses++
	c.putLocked(id, value, c.sizeFn(value))
	return value, false, nil
}

func (c *MemoryAwareLRUCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

func (c *MemoryAwareLRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryAwareLRUCache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func (c *MemoryAwareLRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		safeClose(el.Value.(*maEntry).value)
	}
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.curBytes = 0
}

func (c *MemoryAwareLRUCache) Stats() MemoryAwareStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return MemoryAwareStats{
		Stats: Stats{
			Size:    c.order.Len(),
			MaxSize: c.maxSize,
			Hits:    c.hits,
			Misses:  c.misses,
			HitRate: rate,
		},
		MemoryBytes:    c.curBytes,
		MaxMemoryBytes: c.maxBytes,
	}
}

// BitmapSizeFunc computes width*height*bytesPerPixel, the default estimate
// named in §4.5 for decoded image entries. bytesPerPixel must be one of
// {1,3,4}; other values are treated as 4 (RGBA).
func BitmapSizeFunc(width, height int, bytesPerPixel int) int64 {
	switch bytesPerPixel {
	case 1, 3, 4:
	default:
		bytesPerPixel = 4
	}
	return int64(width) * int64(height) * int64(bytesPerPixel)
}
