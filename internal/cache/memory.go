package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process backend backed by a mutex-guarded map. It is
// the default backend when nothing else is configured and the zero-dependency
// backend for tests. Expiry is lazy: expired entries are removed by the next
// Get/Has that touches them, or by GC.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	mode    Mode
}

var (
	_ Cache     = (*MemoryCache)(nil)
	_ Collector = (*MemoryCache)(nil)
)

type memEntry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired() bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(time.Now())
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry)}
}

// SetMode switches the fault policy. MemoryCache has no storage faults, so
// the mode only matters for interface conformance.
func (c *MemoryCache) SetMode(m Mode) { c.mode = m }

func (c *MemoryCache) Get(_ context.Context, key string, def any) (any, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return nil, err
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return def, nil
	}
	if entry.expired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return def, nil
	}
	return entry.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl TTL) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	if ttl.Immediate() {
		return c.Delete(ctx, key)
	}
	entry := memEntry{value: value}
	if at, ok := ttl.ExpiresAt(time.Now()); ok {
		entry.expiresAt = at
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return true, nil
}

func (c *MemoryCache) Clear(_ context.Context) (bool, error) {
	c.mu.Lock()
	c.entries = make(map[string]memEntry)
	c.mu.Unlock()
	return true, nil
}

func (c *MemoryCache) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if entry.expired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *MemoryCache) GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error) {
	keys, err := validateKeys(keys, strictKeyPattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := c.Get(ctx, k, def)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (c *MemoryCache) SetMulti(ctx context.Context, values map[string]any, ttl TTL) (bool, error) {
	if err := validateValueKeys(values, strictKeyPattern); err != nil {
		return false, err
	}
	ok := true
	for k, v := range values {
		res, err := c.Set(ctx, k, v, ttl)
		if err != nil {
			return false, err
		}
		ok = ok && res
	}
	return ok, nil
}

func (c *MemoryCache) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	keys, err := validateKeys(keys, strictKeyPattern)
	if err != nil {
		return false, err
	}
	ok := true
	for _, k := range keys {
		res, err := c.Delete(ctx, k)
		if err != nil {
			return false, err
		}
		ok = ok && res
	}
	return ok, nil
}

// GC removes every expired entry and returns the count removed.
func (c *MemoryCache) GC(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, entry := range c.entries {
		if entry.expired() {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}
