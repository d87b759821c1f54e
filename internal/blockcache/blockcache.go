// Package blockcache implements a byte-budgeted LRU cache of decoded
// pack block bodies. Unlike an entry-count-bounded LRU, eviction here
// is driven by total bytes held, since blocks vary widely in size.
package blockcache

import (
	"container/list"
	"sync"
)

// entry is the value stored in the list; key lets Cache locate and
// remove it from the index map on eviction.
type entry struct {
	key   uint64
	bytes []byte
}

// Cache is a concurrency-safe, byte-budgeted LRU. The zero value is not
// usable; construct with New.
type Cache struct {
	mu        sync.Mutex
	maxBytes  int64
	curBytes  int64
	ll        *list.List
	index     map[uint64]*list.Element
	hits      int64
	misses    int64
	evictions int64
}

// New creates a Cache that evicts least-recently-used blocks once the
// sum of cached block sizes would exceed maxBytes.
func New(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

// Get returns the cached bytes for blockID, promoting it to
// most-recently-used on a hit.
func (c *Cache) Get(blockID uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[blockID]
	if !ok {
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return el.Value.(*entry).bytes, true
}

// Put inserts or replaces the cached bytes for blockID and evicts
// least-recently-used entries until the cache is back within budget.
func (c *Cache) Put(blockID uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[blockID]; ok {
		old := el.Value.(*entry)
		c.curBytes += int64(len(data)) - int64(len(old.bytes))
		old.bytes = data
		c.ll.MoveToFront(el)
		c.evictIfNeeded()
		return
	}

	el := c.ll.PushFront(&entry{key: blockID, bytes: data})
	c.index[blockID] = el
	c.curBytes += int64(len(data))
	c.evictIfNeeded()
}

// Invalidate removes blockID from the cache, used when a checksum
// verification fails and the cached bytes must not be served again.
func (c *Cache) Invalidate(blockID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[blockID]; ok {
		c.removeElement(el)
	}
}

// Stats reports cumulative cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	CurBytes  int64
	MaxBytes  int64
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		CurBytes:  c.curBytes,
		MaxBytes:  c.maxBytes,
	}
}

func (c *Cache) evictIfNeeded() {
	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
		c.evictions++
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.curBytes -= int64(len(e.bytes))
	delete(c.index, e.key)
	c.ll.Remove(el)
}
