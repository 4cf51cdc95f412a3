package authn

import (
	"sync"
	"time"

	"github.com/nexusiam/controlplane/internal/data"
)

// userCacheTTL is the short read-through window described in §4.1 Caching.
const userCacheTTL = 5 * time.Minute

type cacheEntry struct {
	user    *data.User
	expires time.Time
}

// userCache is a per-user read-through cache keyed by both id and username,
// advisory only: a miss always falls through to the store. Every mutating
// operation on a user invalidates both keys.
type userCache struct {
	mu  sync.RWMutex
	byID  map[string]cacheEntry
	byName map[string]cacheEntry
}

func newUserCache() *userCache {
	return &userCache{
		byID:   make(map[string]cacheEntry),
		byName: make(map[string]cacheEntry),
	}
}

func (c *userCache) getByID(id string) (*data.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.user, true
}

func (c *userCache) getByUsername(username string) (*data.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byName[username]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.user, true
}

func (c *userCache) put(u *data.User) {
	exp := time.Now().Add(userCacheTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[u.ID.String()] = cacheEntry{user: u, expires: exp}
	c.byName[u.Username] = cacheEntry{user: u, expires: exp}
}

// invalidate drops both cache keys for u, called by every mutating user
// operation (update, password change, failed-attempt bump, lockout, delete).
func (c *userCache) invalidate(u *data.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, u.ID.String())
	delete(c.byName, u.Username)
}
