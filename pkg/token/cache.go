package token

import (
	"sync"
	"time"
)

// credCache is a bounded, time-boxed in-process credential cache. It
// exists to keep hot accounts from hammering the store on every request;
// the store remains the source of truth and entries are dropped after a
// fixed TTL regardless of the credential's own expiry.
type credCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	size    int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	cred     Credential
	storedAt time.Time
}

func newCredCache(size int, ttl time.Duration, now func() time.Time) *credCache {
	return &credCache{
		entries: make(map[string]cacheEntry),
		size:    size,
		ttl:     ttl,
		now:     now,
	}
}

// get returns the cached credential and whether it is still inside the
// cache TTL.
func (c *credCache) get(key string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Credential{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return Credential{}, false
	}
	return entry.cred, true
}

// put stores a credential, evicting expired entries first and the oldest
// entry if the cache is still full.
func (c *credCache) put(key string, cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.size {
		for k, e := range c.entries {
			if now.Sub(e.storedAt) >= c.ttl {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.size {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = cacheEntry{cred: cred, storedAt: now}
}

// drop removes a cached credential, used when a refresh supersedes it.
func (c *credCache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
