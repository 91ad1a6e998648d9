// ABOUTME: Thread-safe guard for message ids that have already been applied.
// ABOUTME: Unbounded per-conversation mode for the chat engine, TTL mode for callback replays.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache records keys that have been processed. With a zero TTL entries never
// expire, and with a zero maxSize the cache never evicts. The chat engine
// uses the unbounded form and clears it with Reset when the conversation
// changes; the gateway uses the bounded TTL form to drop replayed callbacks.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache. A sweeper goroutine runs only when ttl > 0.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	}
	return c
}

// NewSet creates an unbounded, non-expiring cache.
func NewSet() *Cache {
	return New(0, 0)
}

func (c *Cache) live(e *entry) bool {
	return c.ttl <= 0 || c.now().Sub(e.markedAt) < c.ttl
}

// Check reports whether key has been marked and is still live.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.seen[key]
	return ok && c.live(e)
}

// CheckAndMark marks key and reports whether it was already present.
// A true result means the caller is looking at a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && c.live(e) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing its timestamp if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// MarkAll records every key in keys.
func (c *Cache) MarkAll(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.markLocked(k)
	}
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	if e, ok := c.seen[key]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{markedAt: now, element: c.order.PushBack(key)}
}

// Forget removes a single key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Reset drops every key.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = make(map[string]*entry)
	c.order.Init()
}

// Len returns the number of tracked keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.seen {
		if !c.live(e) {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
