package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is a process-local Cache used for dry runs and tests. Expiry is
// checked lazily on access.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]*memoryEntry{}, now: time.Now}
}

// WithClock swaps the time source.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryCache) lookup(key string) *memoryEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(key)
	if e == nil || e.members != nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if c.lookup(k) != nil {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) SetAdd(_ context.Context, key, member string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(key)
	if e == nil || e.members == nil {
		e = &memoryEntry{members: map[string]struct{}{}}
		c.entries[key] = e
	}
	e.members[member] = struct{}{}
	if ttl > 0 {
		if exp := c.now().Add(ttl); e.expiresAt.IsZero() || exp.After(e.expiresAt) {
			e.expiresAt = exp
		}
	}
	return nil
}

func (c *MemoryCache) SetMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(key)
	if e == nil || e.members == nil {
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether key is present and unexpired.
func (c *MemoryCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key) != nil
}

// ExpiresAt returns the expiry of key, zero when absent or persistent.
func (c *MemoryCache) ExpiresAt(key string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookup(key); e != nil {
		return e.expiresAt
	}
	return time.Time{}
}
