package periodic

import (
	"container/list"
	"sync"
)

// lruCache is a bounded map with access-order eviction. Lookups refresh
// recency; inserting past the bound discards the least recently used entry.
type lruCache[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](capacity int) *lruCache[V] {
	return &lruCache[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// getOrCreate returns the cached value for key, building and inserting it
// with create on a miss. The whole operation holds the lock, so concurrent
// callers for the same key observe one instance.
func (c *lruCache[V]) getOrCreate(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(lruEntry[V]).value
	}

	if len(c.items) >= c.capacity {
		eldest := c.order.Back()
		if eldest != nil {
			c.order.Remove(eldest)
			delete(c.items, eldest.Value.(lruEntry[V]).key)
		}
	}

	value := create()
	c.items[key] = c.order.PushFront(lruEntry[V]{key: key, value: value})
	return value
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
