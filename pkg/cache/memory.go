package cache

import (
	"context"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// Memory is an in-process cache with per-item expiration.
type Memory struct {
	items map[string]item
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

type item struct {
	value      []byte
	expiration time.Time
}

// NewMemory returns an empty cache. A zero ttl means five minutes.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{
		items: make(map[string]item),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get implements Cache.
func (c *Memory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()
	if !found {
		return nil, ErrMiss
	}
	if c.now().After(it.expiration) {
		c.mu.Lock()
		// re-check under the write lock; a concurrent Set may have refreshed it
		if cur, ok := c.items[key]; ok && c.now().After(cur.expiration) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, ErrMiss
	}
	return it.value, nil
}

// Set implements Cache.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiration: c.now().Add(ttl)}
	return nil
}

// Delete implements Cache.
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Len returns the number of stored items, expired ones included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes expired items.
func (c *Memory) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, it := range c.items {
		if now.After(it.expiration) {
			delete(c.items, key)
		}
	}
}

// StartJanitor runs CleanupExpired every interval until ctx is done.
func (c *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanupExpired()
			}
		}
	}()
}
