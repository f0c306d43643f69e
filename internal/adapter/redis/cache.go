package redis

import (
	"context"
	"sync"
)

// Checkpoints is the store contract shared by Store and Cached.
type Checkpoints interface {
	Fingerprint(ctx context.Context, key string) (string, error)
	Record(ctx context.Context, key, fingerprint string) error
}

// Cached wraps a checkpoint store with an in-memory LRU cache. Records are
// written through.
type Cached struct {
	inner Checkpoints
	cache *lruCache
}

// NewCached creates a cache decorator around a checkpoint store.
func NewCached(inner Checkpoints, maxEntries int) *Cached {
	return &Cached{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (c *Cached) Fingerprint(ctx context.Context, key string) (string, error) {
	if fp, ok := c.cache.get(key); ok {
		return fp, nil
	}
	fp, err := c.inner.Fingerprint(ctx, key)
	if err != nil {
		return "", err
	}
	// Only cache hits so a checkpoint recorded by another host is picked up.
	if fp != "" {
		c.cache.put(key, fp)
	}
	return fp, nil
}

func (c *Cached) Record(ctx context.Context, key, fingerprint string) error {
	if err := c.inner.Record(ctx, key, fingerprint); err != nil {
		return err
	}
	c.cache.put(key, fingerprint)
	return nil
}

// lruCache is a simple thread-safe LRU cache of fingerprints.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
