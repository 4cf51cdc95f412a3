package authz

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry pairs a cached Decision with the wall-clock time it expires,
// the same TTL-on-read shape as the teacher's event dedup cache.
type cacheEntry struct {
	decision Decision
	expires  time.Time
}

// decisionCache is a size-bounded LRU keyed by request fingerprint, with
// per-entry TTL and whole-cache invalidation on any policy mutation (§4.2).
type decisionCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

func newDecisionCache(maxEntries int, ttl time.Duration) *decisionCache {
	c, _ := lru.New[string, cacheEntry](maxEntries)
	return &decisionCache{cache: c, ttl: ttl}
}

func (c *decisionCache) get(fingerprint string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(fingerprint)
	if !ok {
		return Decision{}, false
	}
	if time.Now().After(entry.expires) {
		c.cache.Remove(fingerprint)
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *decisionCache) put(fingerprint string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(fingerprint, cacheEntry{decision: d, expires: time.Now().Add(c.ttl)})
}

// clear evicts every entry. Called on any policy create/update/delete:
// simpler and safer than selective invalidation, per §4.2.
func (c *decisionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

