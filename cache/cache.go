// Package cache keeps recently fetched pages in memory so repeated requests
// for the same URL within a caller-chosen age skip the browser entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/chromefetch/models"
)

const (
	sweepInterval = 5 * time.Minute
	maxLifetime   = time.Hour
)

type entry struct {
	response  *models.FetchResponse
	createdAt time.Time
}

// Cache is an in-memory page cache, safe for concurrent use. Entries older
// than an hour are swept in the background until Close is called.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache holding at most maxEntries pages.
func New(maxEntries int) *Cache {
	c := newCache(maxEntries, time.Now)
	go c.sweepLoop()
	return c
}

func newCache(maxEntries int, now func() time.Time) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        now,
		stop:       make(chan struct{}),
	}
}

// Key identifies a page fetched with a given backend.
func Key(url, backend string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte("|"))
	h.Write([]byte(backend))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key if it is younger than maxAgeMs.
// A non-positive maxAgeMs disables the lookup.
func (c *Cache) Get(key string, maxAgeMs int) (*models.FetchResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}
	return e.response, true
}

// Set stores resp under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, resp *models.FetchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.store {
			if oldest == "" || e.createdAt.Before(oldestAt) {
				oldest, oldestAt = k, e.createdAt
			}
		}
		delete(c.store, oldest)
	}

	c.store[key] = &entry{response: resp, createdAt: c.now()}
}

// Len reports the number of stored pages, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops entries past maxLifetime.
func (c *Cache) sweep() {
	cutoff := c.now().Add(-maxLifetime)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
