// ABOUTME: TTL and size bounded cache of seen message keys.
// ABOUTME: Expired entries are pruned inline on insert; no background goroutine.

package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Key builds the cache key for a transport message id within a session.
func Key(sessionID, messageID string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, messageID)
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers which message keys have been seen recently. Entries
// expire after the TTL and the oldest entries are evicted once the cache
// reaches its size cap. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys oldest-first
	ttl     time.Duration
	maxSize int
}

// New creates a cache with the given TTL and maximum entry count.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// SeenOrRemember atomically reports whether key was already seen within the
// TTL, remembering it when it was not. A single call site deciding
// drop-or-process avoids the check-then-mark race.
func (c *Cache) SeenOrRemember(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpired(now)

	if e, ok := c.seen[key]; ok && now.Sub(e.seenAt) < c.ttl {
		return true
	}
	c.remember(key, now)
	return false
}

// Seen reports whether key is currently remembered, without marking it.
func (c *Cache) Seen(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && now.Sub(e.seenAt) < c.ttl
}

// Len returns the number of remembered keys, counting expired entries not
// yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// remember inserts or refreshes a key. Caller holds mu.
func (c *Cache) remember(key string, now time.Time) {
	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	for len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

// pruneExpired drops entries past the TTL from the front of the order
// list. The list is oldest-first, so pruning stops at the first live
// entry. Caller holds mu.
func (c *Cache) pruneExpired(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictOldest removes the single oldest entry. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	delete(c.seen, front.Value.(string))
	c.order.Remove(front)
}
