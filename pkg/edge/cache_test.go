package edge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mamdani-tracker/tracker/pkg/prerender"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, maxEntries int) (*MemoryCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(CacheConfig{TTL: time.Minute, MaxEntries: maxEntries, JanitorInterval: time.Hour})
	c.now = clock.Now
	t.Cleanup(func() { c.Close() })
	return c, clock
}

func page(p string) *prerender.Page {
	return &prerender.Page{Path: p, HTML: []byte(p)}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("/promises", page("/promises"))
	got, ok := c.Get("/promises")
	assert.True(t, ok)
	assert.Equal(t, "/promises", got.Path)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("/promises")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("/promises")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheDeleteExpired(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("/a", page("/a"))
	clock.Advance(30 * time.Second)
	c.Set("/b", page("/b"))
	clock.Advance(40 * time.Second)

	assert.Equal(t, 1, c.DeleteExpired())
	_, ok := c.Get("/b")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(t, 2)

	c.Set("/a", page("/a"))
	clock.Advance(time.Second)
	c.Set("/b", page("/b"))
	clock.Advance(time.Second)
	c.Set("/c", page("/c"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("/a")
	assert.False(t, ok)
	_, ok = c.Get("/c")
	assert.True(t, ok)

	// overwriting an existing key never evicts
	c.Set("/b", page("/b"))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCachePurge(t *testing.T) {
	c, _ := newTestCache(t, 10)
	for _, k := range []string{"/", "/promises", "/promises/rent-freeze", "/promises/free-buses", "/indicators"} {
		c.Set(k, page(k))
	}

	assert.Equal(t, 3, c.PurgePrefix("/promises"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheCloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(CacheConfig{JanitorInterval: time.Millisecond})
	c.Set("/", page("/"))
	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, time.Hour, c.TTL())
}
