// Package cache keeps recent harvest payloads so callers can opt into
// serving a fresh-enough copy instead of launching a browser.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// entry holds a cached payload with its creation timestamp.
type entry struct {
	payload   json.RawMessage
	listings  int
	createdAt time.Time
}

// Cache is a bounded in-memory payload cache. Entries older than ttl are
// evicted; when full, the least recently used entry goes first.
// It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

// New creates a Cache holding at most maxEntries payloads for up to ttl.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		lru: expirable.NewLRU[string, entry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

// Key derives a cache key from the harvest target.
func Key(pageURL, apiURL, method string) string {
	h := sha256.New()
	h.Write([]byte(pageURL))
	h.Write([]byte("|"))
	h.Write([]byte(apiURL))
	h.Write([]byte("|"))
	h.Write([]byte(method))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a payload younger than maxAgeMs milliseconds together with
// its listing count. If maxAgeMs <= 0, no lookup is performed.
func (c *Cache) Get(key string, maxAgeMs int) (json.RawMessage, int, bool) {
	if maxAgeMs <= 0 {
		return nil, 0, false
	}
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, 0, false
	}
	if c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, 0, false
	}
	return e.payload, e.listings, true
}

// Set stores a payload.
func (c *Cache) Set(key string, payload json.RawMessage, listings int) {
	c.lru.Add(key, entry{payload: payload, listings: listings, createdAt: c.now()})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
