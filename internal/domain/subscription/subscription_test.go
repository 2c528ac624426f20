package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestCurrentUsage(t *testing.T) {
	s := &Subscription{TotalUsage: 500, ResetUsage: 200}
	assert.Equal(t, int64(300), s.CurrentUsage())
}

func TestLimited(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"unlimited", Subscription{LimitUsage: 0, TotalUsage: 1 << 40}, false},
		{"under quota", Subscription{LimitUsage: 100, TotalUsage: 100}, false},
		{"over quota", Subscription{LimitUsage: 100, TotalUsage: 101}, true},
		{"reset clears", Subscription{LimitUsage: 100, TotalUsage: 200, ResetUsage: 150}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Limited())
		})
	}
}

func TestExpiredAndPending(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	unlimited := Subscription{LimitExpire: 0}
	assert.False(t, unlimited.Expired(now))
	assert.False(t, unlimited.Pending())

	pending := Subscription{LimitExpire: -86400}
	assert.False(t, pending.Expired(now))
	assert.True(t, pending.Pending())

	future := Subscription{LimitExpire: now.Unix() + 60}
	assert.False(t, future.Expired(now))

	past := Subscription{LimitExpire: now.Unix() - 1}
	assert.True(t, past.Expired(now))
}

func TestIsActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := Subscription{Enabled: true, Activated: true, LimitExpire: -86400}
	assert.True(t, s.IsActive(now), "pending subscriptions stay active")

	s.Debted = true
	assert.False(t, s.IsActive(now))

	s.Debted = false
	s.Enabled = false
	assert.False(t, s.IsActive(now))
}

func TestIsOnline(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := Subscription{OnlineAt: timePtr(now.Add(-60 * time.Second))}
	assert.True(t, s.IsOnline(now))

	s.OnlineAt = timePtr(now.Add(-121 * time.Second))
	assert.False(t, s.IsOnline(now))

	s.OnlineAt = nil
	assert.False(t, s.IsOnline(now))
}

func TestShouldBeRemoved(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	fresh := Subscription{ReachedAt: timePtr(now.Add(-23 * time.Hour))}
	assert.False(t, fresh.ShouldBeRemoved(now))

	stale := Subscription{ReachedAt: timePtr(now.Add(-25 * time.Hour))}
	assert.True(t, stale.ShouldBeRemoved(now))

	inactive := Subscription{InactiveAt: timePtr(now.Add(-25 * time.Hour))}
	assert.True(t, inactive.ShouldBeRemoved(now))
}

func TestNodesIntersectsOwnerServices(t *testing.T) {
	n1 := node.Node{ID: 1, Enabled: true}
	n2 := node.Node{ID: 2, Enabled: true}
	n3 := node.Node{ID: 3, Enabled: true, Removed: true}

	granted := service.Service{ID: 10, Nodes: []node.Node{n1, n3}}
	ungranted := service.Service{ID: 20, Nodes: []node.Node{n2}}

	owner := &admin.Admin{Services: []service.Service{{ID: 10}}}
	s := Subscription{
		Owner:    owner,
		Services: []service.Service{granted, ungranted},
	}

	ids := s.NodeIDs()
	assert.True(t, ids[1], "node from granted service is effective")
	assert.False(t, ids[2], "service the owner lacks is excluded")
	assert.False(t, ids[3], "removed nodes are excluded")

	assert.Equal(t, []uint{10}, s.ServiceIDs())
}

func TestLink(t *testing.T) {
	owner := &admin.Admin{
		AccessPrefix: strPtr("https://sub.example.com"),
		UsernameTag:  true,
	}
	s := Subscription{
		Owner:     owner,
		Username:  strPtr("alice"),
		AccessKey: "deadbeef",
	}
	assert.Equal(t, "https://sub.example.com/guards/deadbeef#alice", s.Link())

	owner.UsernameTag = false
	tag := "mytag"
	owner.AccessTag = &tag
	assert.Equal(t, "https://sub.example.com/mytag/deadbeef", s.Link())
}

func TestApplyCounterRateAndReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	u := NewUsage(1, 1, 0, 0.5, now, now)
	assert.Equal(t, int64(0), u.Usage)
	assert.Equal(t, int64(0), u.RawUsage)

	changed, reset := u.ApplyCounter(1000, 0.5, now)
	assert.True(t, changed)
	assert.False(t, reset)
	assert.Equal(t, int64(500), u.Usage)
	assert.Equal(t, int64(1000), u.RawUsage)

	// Upstream counter reset: re-base without credit.
	changed, reset = u.ApplyCounter(800, 0.5, now)
	assert.True(t, changed)
	assert.True(t, reset)
	assert.Equal(t, int64(500), u.Usage)
	assert.Equal(t, int64(800), u.RawUsage)

	changed, reset = u.ApplyCounter(1200, 0.5, now)
	assert.True(t, changed)
	assert.False(t, reset)
	assert.Equal(t, int64(700), u.Usage)
	assert.Equal(t, int64(1200), u.RawUsage)

	// Unchanged counter is a no-op.
	changed, _ = u.ApplyCounter(1200, 0.5, now)
	assert.False(t, changed)
}

func TestAutoRenewalApplyResetUsage(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := &Subscription{
		LimitUsage: 100,
		TotalUsage: 200,
		Reached:    true,
		ReachedAt:  timePtr(now.Add(-time.Minute)),
	}
	r := &AutoRenewal{LimitUsage: 500, LimitExpire: 86400, ResetUsage: true}

	r.Apply(s, now)

	assert.Equal(t, int64(500), s.LimitUsage)
	assert.Equal(t, now.Unix()+86400, s.LimitExpire)
	assert.Equal(t, int64(200), s.ResetUsage)
	assert.False(t, s.Reached)
	assert.Nil(t, s.ReachedAt)
	assert.NotNil(t, s.LastResetAt)
	assert.Zero(t, s.CurrentUsage())
}

func TestAutoRenewalApplyPendingAndUnlimited(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := &Subscription{LimitExpire: now.Unix() - 10, Reached: true}
	(&AutoRenewal{LimitExpire: -86400}).Apply(s, now)
	assert.Equal(t, int64(-86400), s.LimitExpire)

	(&AutoRenewal{LimitExpire: 0}).Apply(s, now)
	assert.Zero(t, s.LimitExpire)
}

func TestFormatMapQuotaRendering(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s := Subscription{
		Username:   strPtr("alice"),
		Enabled:    true,
		Activated:  true,
		LimitUsage: 1 << 30,
		TotalUsage: 1 << 29,
	}
	vars := s.FormatMap(now)

	assert.Equal(t, "alice", vars["username"])
	assert.Equal(t, "1.00 GB", vars["limit_usage"])
	assert.Equal(t, "512.00 MB", vars["current_usage"])
	assert.Equal(t, "✅", vars["is_active"])
	assert.Equal(t, "♾️", vars["expire_date"])
}

func TestPatchApply(t *testing.T) {
	enabled := false
	limit := int64(42)
	s := &Subscription{Enabled: true, LimitUsage: 1, Note: "keep"}

	(&Patch{Enabled: &enabled, LimitUsage: &limit}).Apply(s)

	assert.False(t, s.Enabled)
	assert.Equal(t, int64(42), s.LimitUsage)
	assert.Equal(t, "keep", s.Note)
}
