package edge

import (
	"strings"
	"sync"
	"time"

	"github.com/mamdani-tracker/tracker/pkg/prerender"
)

// Cache stores rendered pages by cache key
type Cache interface {
	Get(key string) (*prerender.Page, bool)
	Set(key string, page *prerender.Page)
	Purge() int
	PurgePrefix(prefix string) int
	Len() int
}

type cacheEntry struct {
	page      *prerender.Page
	expiresAt time.Time
}

// CacheConfig sizes the in-memory page cache
type CacheConfig struct {
	TTL             time.Duration
	MaxEntries      int
	JanitorInterval time.Duration
}

// DefaultCacheConfig returns the settings used when none are configured
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             time.Hour,
		MaxEntries:      1000,
		JanitorInterval: 5 * time.Minute,
	}
}

// MemoryCache is a TTL cache with an entry cap. A janitor goroutine drops
// expired entries until Close is called.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates the cache and starts its janitor
func NewMemoryCache(cfg CacheConfig) *MemoryCache {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}

	c := &MemoryCache{
		entries:    make(map[string]cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.janitor(cfg.JanitorInterval)
	return c
}

// TTL returns how long entries live
func (c *MemoryCache) TTL() time.Duration {
	return c.ttl
}

func (c *MemoryCache) janitor(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Get returns a live entry
func (c *MemoryCache) Get(key string) (*prerender.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.page, true
}

// Set stores a page, evicting the entry closest to expiry when full
func (c *MemoryCache) Set(key string, page *prerender.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.deleteExpiredLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = cacheEntry{page: page, expiresAt: now.Add(c.ttl)}
}

func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	delete(c.entries, oldestKey)
}

// DeleteExpired drops expired entries and returns how many were removed
func (c *MemoryCache) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteExpiredLocked(c.now())
}

func (c *MemoryCache) deleteExpiredLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Purge empties the cache
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// PurgePrefix drops every key starting with prefix
func (c *MemoryCache) PurgePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the janitor and waits for it to exit
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return nil
}
