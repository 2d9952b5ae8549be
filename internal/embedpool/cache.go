package embedpool

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolmind/pkg/harnessports"
)

// VectorCache memoizes a chunk's embedding by content, so identical text
// (a common case for repeated conversation titles, boilerplate tags, or
// re-indexed chunks) is never sent to the provider twice. An LRU with TTL,
// adapted from the teacher's harness response cache: the cache key there was
// a prompt hash, here it is the chunk content itself. It implements the
// teacher's harnessports.Cache port directly, so any other harnessports.Cache
// backend (Redis, etc.) is a drop-in replacement for the pool.
type VectorCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheEntry
	head     *cacheEntry
	tail     *cacheEntry
}

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time
	prev    *cacheEntry
	next    *cacheEntry
}

// NewVectorCache builds a cache holding at most capacity entries.
func NewVectorCache(capacity int) *VectorCache {
	return &VectorCache{
		capacity: capacity,
		items:    make(map[string]*cacheEntry),
	}
}

// Get implements harnessports.Cache.
func (c *VectorCache) Get(_ context.Context, key string) (value []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.removeLocked(entry)
		delete(c.items, key)
		return nil, false
	}
	c.moveToFrontLocked(entry)
	return entry.value, true
}

// Set implements harnessports.Cache.
func (c *VectorCache) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(time.Duration(ttlSeconds) * time.Second)

	if entry, exists := c.items[key]; exists {
		entry.value = value
		entry.expires = expires
		c.moveToFrontLocked(entry)
		return nil
	}

	entry := &cacheEntry{key: key, value: value, expires: expires}
	c.addToFrontLocked(entry)
	c.items[key] = entry

	if len(c.items) > c.capacity {
		c.evictLRULocked()
	}
	return nil
}

// Delete implements harnessports.Cache.
func (c *VectorCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return nil
	}
	c.removeLocked(entry)
	delete(c.items, key)
	return nil
}

func (c *VectorCache) moveToFrontLocked(entry *cacheEntry) {
	if entry == c.head {
		return
	}
	c.removeLocked(entry)
	c.addToFrontLocked(entry)
}

func (c *VectorCache) addToFrontLocked(entry *cacheEntry) {
	entry.next = c.head
	entry.prev = nil
	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry
	if c.tail == nil {
		c.tail = entry
	}
}

func (c *VectorCache) removeLocked(entry *cacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

func (c *VectorCache) evictLRULocked() {
	if c.tail == nil {
		return
	}
	entry := c.tail
	c.removeLocked(entry)
	delete(c.items, entry.key)
}

var _ harnessports.Cache = (*VectorCache)(nil)
