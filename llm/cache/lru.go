package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruCache 是进程内 L1 缓存，容量满时淘汰最久未使用的条目。
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = 最近使用
	items    map[string]*list.Element
	now      func() time.Time
}

type lruItem struct {
	key       string
	entry     *CacheEntry
	expiresAt time.Time
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *lruCache) get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*lruItem)
	if c.now().After(item.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return item.entry, true
}

func (c *lruCache) set(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		item := el.Value.(*lruItem)
		item.entry, item.expiresAt = entry, expiresAt
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruItem).key)
		}
	}
	c.items[key] = c.order.PushFront(&lruItem{key: key, entry: entry, expiresAt: expiresAt})
}

func (c *lruCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
