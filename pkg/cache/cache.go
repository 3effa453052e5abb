package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

func (i item[V]) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Cache is a thread-safe in-memory map with per-entry TTL. A zero TTL never
// expires.
type Cache[V any] struct {
	mu         sync.RWMutex
	items      map[string]item[V]
	defaultTTL time.Duration
	clock      clockwork.Clock

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// New creates a cache. When cleanupInterval is positive a goroutine drops
// expired entries until Stop.
func New[V any](defaultTTL, cleanupInterval time.Duration, clock clockwork.Clock) *Cache[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Cache[V]{
		items:       make(map[string]item[V]),
		defaultTTL:  defaultTTL,
		clock:       clock,
		stopCleanup: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanup(cleanupInterval)
	}
	return c
}

// Get retrieves a value from cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired(c.clock.Now()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores a value in cache with default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := item[V]{value: value}
	if ttl > 0 {
		it.expiresAt = c.clock.Now().Add(ttl)
	}
	c.items[key] = it
}

// Delete removes key and reports whether a live entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	delete(c.items, key)
	return ok && !it.expired(c.clock.Now())
}

// Invalidate drops entries whose key has the given prefix, or every expired
// entry when prefix is empty.
func (c *Cache[V]) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, it := range c.items {
		if (prefix == "" && it.expired(now)) || (prefix != "" && strings.HasPrefix(key, prefix)) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len counts live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	n := 0
	for _, it := range c.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.Invalidate("")
		case <-c.stopCleanup:
			return
		}
	}
}

// GetOrSet returns the cached value for key or stores the result of fallback.
// Fallback errors are not cached.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, fallback func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := fallback(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}
