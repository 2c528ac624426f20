package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
)

func strPtr(s string) *string { return &s }

func TestAdminCacheIndices(t *testing.T) {
	c := NewAdminCache()
	a := &admin.Admin{ID: 1, Username: strPtr("boss"), APIKey: "key-1"}
	c.SetAll([]*admin.Admin{a})

	assert.Same(t, a, c.GetByUsername("boss"))
	assert.Same(t, a, c.GetByID(1))
	assert.Same(t, a, c.GetByAPIKey("key-1"))
	assert.Nil(t, c.GetByUsername("nobody"))
}

func TestAdminCacheTTL(t *testing.T) {
	c := NewAdminCache()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.SetAll([]*admin.Admin{{ID: 1, Username: strPtr("boss")}})
	assert.NotNil(t, c.GetByID(1))

	now = now.Add(AdminTTL + time.Second)
	assert.Nil(t, c.GetByID(1), "expired entries read as misses")
}

func TestAdminCacheUpdateEvictsRotatedAPIKey(t *testing.T) {
	c := NewAdminCache()
	c.SetAll([]*admin.Admin{{ID: 1, Username: strPtr("boss"), APIKey: "old"}})

	c.Update(&admin.Admin{ID: 1, Username: strPtr("boss"), APIKey: "new"})

	assert.Nil(t, c.GetByAPIKey("old"))
	assert.NotNil(t, c.GetByAPIKey("new"))
}

func TestAdminCacheRemove(t *testing.T) {
	c := NewAdminCache()
	a := &admin.Admin{ID: 1, Username: strPtr("boss"), APIKey: "key-1"}
	c.SetAll([]*admin.Admin{a})

	c.Remove(a)

	assert.Nil(t, c.GetByUsername("boss"))
	assert.Nil(t, c.GetByID(1))
	assert.Nil(t, c.GetByAPIKey("key-1"))
}

func TestConfigCacheKnownEmpty(t *testing.T) {
	c := NewConfigCache()

	_, ok := c.Get(1)
	assert.False(t, ok, "unseen node is a miss")

	c.Set(1, nil)
	configs, ok := c.Get(1)
	assert.True(t, ok, "a node that answered empty is not a miss")
	assert.Empty(t, configs)

	c.Set(2, []nodeclient.Config{{ID: 10, Name: "svc"}})
	configs, ok = c.Get(2)
	assert.True(t, ok)
	assert.Len(t, configs, 1)

	c.Remove(2)
	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestLinksCache(t *testing.T) {
	c := NewLinksCache()

	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Set(1, []string{"vless://x@h:443#r"})
	links, ok := c.Get(1)
	assert.True(t, ok)
	assert.Len(t, links, 1)

	c.Clear()
	_, ok = c.Get(1)
	assert.False(t, ok)
}
