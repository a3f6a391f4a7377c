// Package cache holds the fingerprint-keyed access-token result cache
// (spec.md §4.9): bounded LRU with TTL eviction, coalesced concurrent
// builds, and a DPoP-aware re-validation hook on cache hits.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached validation result: the validated content plus the
// data needed to decide whether a hit still requires a DPoP re-check.
type Entry struct {
	Content   any
	ExpiresAt time.Time
	HasCnfJKT bool
	CnfJKT    string
}

func (e *Entry) expired(skew time.Duration) bool {
	return time.Now().After(e.ExpiresAt.Add(-skew))
}

type node struct {
	key   string
	entry *Entry
}

// Cache is a bounded, concurrency-safe access-token result cache. Grounded
// on jwks/provider.go's jwxCache locking shape, generalized from "one JWKS
// per issuer" to "one entry per token fingerprint" and extended with
// container/list LRU eviction (as multi_issuer_provider.go uses for its
// issuer registry) and golang.org/x/sync/singleflight build coalescing.
type Cache struct {
	capacity int
	skew     time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	group singleflight.Group
}

// New builds a Cache bounded to capacity entries, with clockSkew applied to
// TTL expiry checks (spec.md §4.9: "TTL eviction driven by exp - now - skew
// <= 0").
func New(capacity int, clockSkew time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		skew:     clockSkew,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Fingerprint computes the cache key for a raw token string: a SHA-256
// digest, base64url-encoded without padding, so raw token bytes are never
// retained as a map key.
func Fingerprint(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Get looks up fingerprint. On a hit whose content needsDpopCheck, dpopCheck
// is invoked before the entry is returned; a dpopCheck failure propagates as
// this call's error without evicting or otherwise poisoning the entry
// (spec.md §4.9: "the cached entry is not poisoned"). A miss or expired hit
// returns ok=false with a nil error.
func (c *Cache) Get(fingerprint string, needsDpopCheck bool, dpopCheck func() error) (*Entry, bool, error) {
	c.mu.Lock()
	elem, ok := c.items[fingerprint]
	if !ok {
		c.mu.Unlock()
		return nil, false, nil
	}
	e := elem.Value.(*node).entry
	if e.expired(c.skew) {
		c.order.Remove(elem)
		delete(c.items, fingerprint)
		c.mu.Unlock()
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	c.mu.Unlock()

	if needsDpopCheck && dpopCheck != nil {
		if err := dpopCheck(); err != nil {
			return nil, false, err
		}
	}
	return e, true, nil
}

// Put inserts or overwrites the entry for fingerprint, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Put(fingerprint string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fingerprint]; ok {
		elem.Value.(*node).entry = entry
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&node{key: fingerprint, entry: entry})
	c.items[fingerprint] = elem

	if c.capacity > 0 {
		for len(c.items) > c.capacity {
			back := c.order.Back()
			if back == nil {
				break
			}
			c.order.Remove(back)
			delete(c.items, back.Value.(*node).key)
		}
	}
}

// GetOrBuild resolves fingerprint from the cache, or coalesces concurrent
// builds through a single call to build when it's a miss. A build failure is
// never cached (spec.md §4.9: "A failure is not cached").
func (c *Cache) GetOrBuild(fingerprint string, needsDpopCheck bool, dpopCheck func() error, build func() (*Entry, error)) (*Entry, error) {
	if e, ok, err := c.Get(fingerprint, needsDpopCheck, dpopCheck); ok || err != nil {
		return e, err
	}

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// Double-check: another goroutine may have populated the cache
		// while this one waited to enter the singleflight critical section.
		if e, ok, err := c.Get(fingerprint, needsDpopCheck, dpopCheck); ok || err != nil {
			return e, err
		}

		entry, err := build()
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Entry), nil
}

// Len reports the current number of cached entries, for diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
