package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an unbounded in-process cache with lazy expiry.
type MemoryCache struct {
	TTL   time.Duration
	Clock func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryCache returns an empty cache. A negative ttl falls back to DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{TTL: ttl, entries: make(map[string]Entry)}
}

// Get returns the value when present and unexpired. An expired entry is
// removed as a side effect.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.Expired(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Set stores the value with expiry now + TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries == nil {
		c.entries = make(map[string]Entry)
	}
	c.entries[key] = Entry{Key: key, Value: value, ExpiresAt: c.now().Add(c.TTL)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
