// Package auth implements the signed-request scheme used by prepaid
// callers: an address, timestamp and signature triple over the request
// body, plus a replay cache for signatures inside the timestamp window.
package auth

import (
	"sync"
	"time"
)

// DefaultReplayTTL is how long signatures are retained, twice the
// timestamp window so an entry always outlives the window it was
// accepted in.
const DefaultReplayTTL = 2 * time.Minute

// ReplayCache tracks recently seen request signatures. A signature that
// verified once must not be accepted again while its timestamp is still
// inside the window.
type ReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewReplayCache creates a cache with the specified TTL.
func NewReplayCache(ttl time.Duration) *ReplayCache {
	return &ReplayCache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsReplay reports whether signature was already recorded within the TTL.
// It does not record the signature; call Remember once the request has
// verified. Expired entries are dropped before the check.
func (c *ReplayCache) IsReplay(signature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupExpiredLocked()

	_, seen := c.seen[signature]
	return seen
}

// Remember records a signature that passed verification.
func (c *ReplayCache) Remember(signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[signature] = time.Now()
}

// Size returns the number of entries currently held, including entries
// that have expired but not yet been swept.
func (c *ReplayCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.seen)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *ReplayCache) cleanupExpiredLocked() {
	now := time.Now()
	for signature, firstSeen := range c.seen {
		if now.Sub(firstSeen) >= c.ttl {
			delete(c.seen, signature)
		}
	}
}
