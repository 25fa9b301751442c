// Package cache provides the short-TTL in-process read cache that fronts
// the storage tiers.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the cache configuration.
type Config struct {
	// DefaultTTL is applied by Set when no explicit TTL is given.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
	// MaxItems bounds the cache; the entry closest to expiry is dropped
	// when the bound is exceeded.
	MaxItems int
	// OnEviction is called after an entry is removed by sweep or overflow.
	OnEviction func(key string, value any)
}

type item struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL-bounded in-process cache safe for concurrent use.
type Cache struct {
	data    sync.Map
	size    atomic.Int64
	config  Config
	done    chan struct{}
	closeMu sync.Once
}

// New creates a cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	c := &Cache{
		config: config,
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the value for key if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	v, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	it := v.(*item)
	if time.Now().After(it.expiresAt) {
		c.remove(key)
		return nil, false
	}
	return it.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if _, loaded := c.data.Swap(key, &item{value: value, expiresAt: time.Now().Add(ttl)}); !loaded {
		c.size.Add(1)
	}
	if c.config.MaxItems > 0 && int(c.size.Load()) > c.config.MaxItems {
		c.evictOne(key)
	}
}

// Delete removes key from the cache.
func (c *Cache) Delete(_ context.Context, key string) {
	c.remove(key)
}

// Clear removes every entry.
func (c *Cache) Clear(_ context.Context) {
	c.data.Range(func(key, _ any) bool {
		c.remove(key.(string))
		return true
	})
}

// Size returns the current entry count.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() error {
	c.closeMu.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Cache) remove(key string) {
	if v, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		if c.config.OnEviction != nil {
			c.config.OnEviction(key, v.(*item).value)
		}
	}
}

// evictOne drops the entry closest to expiry, skipping the key that was
// just inserted.
func (c *Cache) evictOne(justSet string) {
	var victim string
	var soonest time.Time
	c.data.Range(func(key, value any) bool {
		k := key.(string)
		if k == justSet {
			return true
		}
		it := value.(*item)
		if victim == "" || it.expiresAt.Before(soonest) {
			victim = k
			soonest = it.expiresAt
		}
		return true
	})
	if victim != "" {
		c.remove(victim)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.data.Range(func(key, value any) bool {
				if now.After(value.(*item).expiresAt) {
					c.remove(key.(string))
				}
				return true
			})
		}
	}
}
