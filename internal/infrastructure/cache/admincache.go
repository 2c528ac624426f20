// Package cache holds the process-wide in-memory projections shared by
// request handlers and background trackers. All caches are
// non-authoritative; callers fall back to the store on a miss.
package cache

import (
	"sync"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/admin"
)

// AdminTTL is how long a cached admin entry stays valid.
const AdminTTL = 3000 * time.Second

type adminEntry struct {
	admin    *admin.Admin
	cachedAt time.Time
}

// AdminCache indexes admins by username, id, and api key with a TTL.
// Writers are the request handlers that just committed a mutation and the
// reseller tracker's periodic full refresh.
type AdminCache struct {
	mu         sync.RWMutex
	byUsername map[string]*adminEntry
	byID       map[uint]*adminEntry
	byAPIKey   map[string]*adminEntry
	now        func() time.Time
}

func NewAdminCache() *AdminCache {
	return &AdminCache{
		byUsername: make(map[string]*adminEntry),
		byID:       make(map[uint]*adminEntry),
		byAPIKey:   make(map[string]*adminEntry),
		now:        time.Now,
	}
}

// SetAll replaces the whole cache content with a fresh snapshot.
func (c *AdminCache) SetAll(admins []*admin.Admin) {
	byUsername := make(map[string]*adminEntry, len(admins))
	byID := make(map[uint]*adminEntry, len(admins))
	byAPIKey := make(map[string]*adminEntry, len(admins))

	now := c.now()
	for _, a := range admins {
		e := &adminEntry{admin: a, cachedAt: now}
		if a.Username != nil {
			byUsername[*a.Username] = e
		}
		byID[a.ID] = e
		if a.APIKey != "" {
			byAPIKey[a.APIKey] = e
		}
	}

	c.mu.Lock()
	c.byUsername = byUsername
	c.byID = byID
	c.byAPIKey = byAPIKey
	c.mu.Unlock()
}

// Update writes through one admin, evicting a stale api-key index entry
// when the key rotated.
func (c *AdminCache) Update(a *admin.Admin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byID[a.ID]; ok && old.admin.APIKey != a.APIKey {
		delete(c.byAPIKey, old.admin.APIKey)
	}

	e := &adminEntry{admin: a, cachedAt: c.now()}
	if a.Username != nil {
		c.byUsername[*a.Username] = e
	}
	c.byID[a.ID] = e
	if a.APIKey != "" {
		c.byAPIKey[a.APIKey] = e
	}
}

// Remove drops an admin from all three indices.
func (c *AdminCache) Remove(a *admin.Admin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a.Username != nil {
		delete(c.byUsername, *a.Username)
	}
	delete(c.byID, a.ID)
	delete(c.byAPIKey, a.APIKey)
}

// Clear empties the cache.
func (c *AdminCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUsername = make(map[string]*adminEntry)
	c.byID = make(map[uint]*adminEntry)
	c.byAPIKey = make(map[string]*adminEntry)
}

func (c *AdminCache) fresh(e *adminEntry) *admin.Admin {
	if e == nil || c.now().Sub(e.cachedAt) > AdminTTL {
		return nil
	}
	return e.admin
}

// GetByUsername returns the cached admin or nil when missing or expired.
func (c *AdminCache) GetByUsername(username string) *admin.Admin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh(c.byUsername[username])
}

// GetByID returns the cached admin or nil when missing or expired.
func (c *AdminCache) GetByID(id uint) *admin.Admin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh(c.byID[id])
}

// GetByAPIKey returns the cached admin or nil when missing or expired.
func (c *AdminCache) GetByAPIKey(apiKey string) *admin.Admin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh(c.byAPIKey[apiKey])
}
