package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pricelens/backend/internal/domain"
)

// memoryEntry is one cached value with its expiry
type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryCache is a thread-safe in-process CacheRepository with TTL support.
// Values are stored as decoded JSON so reads look the same as from Redis.
type MemoryCache struct {
	data  map[string]memoryEntry
	mutex sync.RWMutex
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a cache that sweeps expired entries every interval
// (10 minutes when zero). Close stops the sweeper.
func NewMemoryCache(interval time.Duration) *MemoryCache {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	c := &MemoryCache{
		data: make(map[string]memoryEntry),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go c.sweep(interval)
	return c
}

// Get returns a live value or ErrCacheMiss.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.data[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, domain.ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores value for ttl.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data[key] = memoryEntry{value: decoded, expiresAt: c.now().Add(ttl)}
	return nil
}

// Delete removes key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.data, key)
	return nil
}

// Exists reports whether key holds a live value.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.data[key]
	return ok && c.now().Before(entry.expiresAt), nil
}

// Len is the number of stored entries, expired ones included until swept.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Close stops the sweeper. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	for key, entry := range c.data {
		if !now.Before(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}

var _ domain.CacheRepository = (*MemoryCache)(nil)
