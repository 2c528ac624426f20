package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAutoRenewal(t *testing.T) {
	s := &Subscription{}
	assert.Nil(t, s.NextAutoRenewal())

	// queue order follows ids, not slice order
	s.AutoRenewals = []AutoRenewal{
		{ID: 9, LimitUsage: 900},
		{ID: 3, LimitUsage: 300},
		{ID: 7, LimitUsage: 700},
	}
	next := s.NextAutoRenewal()
	require.NotNil(t, next)
	assert.Equal(t, uint(3), next.ID)
	assert.Equal(t, int64(300), next.LimitUsage)
}

func TestAutoRenewalApply(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reachedAt := now.Add(-time.Hour)

	t.Run("replaces quotas and clears reached state", func(t *testing.T) {
		s := &Subscription{
			LimitUsage:      100,
			LimitExpire:     now.Unix() - 10,
			TotalUsage:      150,
			Reached:         true,
			ReachedAt:       timePtr(reachedAt),
			OnReachedExpire: true,
			OnReachedUsage:  true,
		}
		r := AutoRenewal{LimitUsage: 500, LimitExpire: 30 * 86400}
		r.Apply(s, now)

		assert.Equal(t, int64(500), s.LimitUsage)
		assert.Equal(t, now.Unix()+30*86400, s.LimitExpire)
		assert.False(t, s.Reached)
		assert.Nil(t, s.ReachedAt)
		assert.False(t, s.OnReachedExpire)
		assert.False(t, s.OnReachedUsage)
		assert.Equal(t, int64(0), s.ResetUsage, "usage untouched without reset")
		assert.Nil(t, s.LastResetAt)
	})

	t.Run("negative expire stays a pending duration", func(t *testing.T) {
		s := &Subscription{LimitExpire: now.Unix() - 10}
		r := AutoRenewal{LimitExpire: -7 * 86400}
		r.Apply(s, now)
		assert.Equal(t, int64(-7*86400), s.LimitExpire)
		assert.True(t, s.Pending())
	})

	t.Run("zero expire means unlimited", func(t *testing.T) {
		s := &Subscription{LimitExpire: now.Unix() - 10}
		r := AutoRenewal{}
		r.Apply(s, now)
		assert.Equal(t, int64(0), s.LimitExpire)
	})

	t.Run("reset usage moves the baseline", func(t *testing.T) {
		s := &Subscription{LimitUsage: 100, TotalUsage: 150, ResetUsage: 20}
		r := AutoRenewal{LimitUsage: 100, ResetUsage: true}
		r.Apply(s, now)
		assert.Equal(t, int64(150), s.ResetUsage)
		assert.Equal(t, int64(0), s.CurrentUsage())
		require.NotNil(t, s.LastResetAt)
		assert.Equal(t, now, *s.LastResetAt)
	})
}
