package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRU is a size-bounded in-memory store with per-entry expiry. It is the
// community tier store and L1 in two-phase caching.
type LRU struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List // front is most recently used
	now      func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRU creates an LRU holding at most capacity entries (1000 if
// capacity is not positive).
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the live value for key, dropping it if it has expired.
func (c *LRU) Get(ctx context.Context, key string) ([]byte, error) {
	val, _, err := c.GetWithTTL(ctx, key)
	return val, err
}

// GetWithTTL is Get that also reports the time the value has left.
func (c *LRU) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, 0, nil
	}
	entry := elem.Value.(*lruEntry)
	remaining := entry.expiresAt.Sub(c.now())
	if remaining <= 0 {
		c.evict(elem)
		return nil, 0, nil
	}
	c.recency.MoveToFront(elem)
	return entry.value, remaining, nil
}

// Set stores value until ttl elapses, evicting the least recently used
// entries beyond capacity.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.evict(c.recency.Back())
	}
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.evict(elem)
	}
	return nil
}

func (c *LRU) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.recency.Init()
	return nil
}

// Stats reports the number of entries, expired ones included until they
// are next read, and the capacity.
func (c *LRU) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.capacity
}

func (c *LRU) evict(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
