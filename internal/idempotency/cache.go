// ABOUTME: Thread-safe TTL cache mapping Idempotency-Key headers to created entities.
// ABOUTME: Lets a retried create return the entity made by the first attempt.

package idempotency

import (
	"container/list"
	"sync"
	"time"
)

// Ref identifies the entity a keyed create produced
type Ref struct {
	TypeID   int
	EntityID int64
}

// State is the outcome of Begin
type State int

const (
	// StateNew means the caller owns the key and must call Complete or Release
	StateNew State = iota
	// StatePending means another request with the same key is still running
	StatePending
	// StateDone means the key already produced an entity; the Ref is valid
	StateDone
	// StateMismatch means the key was first used with a different request
	StateMismatch
)

// cacheEntry stores the timestamp, request fingerprint, result and list
// element for a cached key.
type cacheEntry struct {
	timestamp   time.Time
	element     *list.Element
	fingerprint string
	ref         Ref
	done        bool
}

// Cache provides a thread-safe, TTL-based, size-limited map from idempotency
// keys to entity references. Uses a doubly-linked list to maintain insertion
// order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// lookup returns the entity a completed key produced.
func (c *Cache) lookup(key string) (Ref, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !entry.done || time.Since(entry.timestamp) >= c.ttl {
		return Ref{}, false
	}
	return entry.ref, true
}

// Begin atomically checks a key and claims it if unseen or expired.
// This prevents two concurrent requests with the same key from both creating.
// fingerprint identifies the request body; a live key seen with a different
// fingerprint yields StateMismatch.
func (c *Cache) Begin(key, fingerprint string) (Ref, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		switch {
		case entry.fingerprint != fingerprint:
			return Ref{}, StateMismatch
		case entry.done:
			return entry.ref, StateDone
		default:
			return Ref{}, StatePending
		}
	}

	c.putLocked(key, fingerprint, Ref{}, false)
	return Ref{}, StateNew
}

// Complete records the entity produced for a key claimed with Begin.
func (c *Cache) Complete(key string, ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fingerprint := ""
	if entry, ok := c.entries[key]; ok {
		fingerprint = entry.fingerprint
	}
	c.putLocked(key, fingerprint, ref, true)
}

// Release drops a claimed key so the request can be retried.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && !entry.done {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// putLocked inserts or refreshes a key. Must be called with mu held.
func (c *Cache) putLocked(key, fingerprint string, ref Ref, done bool) {
	now := time.Now()

	// If key already exists, update it and move to back
	if entry, exists := c.entries[key]; exists {
		entry.timestamp = now
		entry.fingerprint = fingerprint
		entry.ref = ref
		entry.done = done
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		timestamp:   now,
		element:     elem,
		fingerprint: fingerprint,
		ref:         ref,
		done:        done,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
