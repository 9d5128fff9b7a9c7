// Package cache 提供按 key 过期的小型内存缓存，各使用点按需实例化。
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache 线程安全的 TTL 缓存。ttl<=0 表示永不过期。
type Cache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
	ttl  time.Duration
	now  func() time.Time
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{data: make(map[K]entry[V]), ttl: ttl, now: time.Now}
}

// WithClock 替换时钟（测试用）。
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

// Get 返回未过期的值。
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || c.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Stale 忽略过期时间返回最后一次写入的值，用于刷新失败时的兜底。
func (c *Cache[K, V]) Stale(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok {
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.data[key] = entry[V]{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *Cache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Purge 清理所有已过期条目，返回清理数量。
func (c *Cache[K, V]) Purge() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.data {
		if c.expired(e) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *Cache[K, V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl
}
