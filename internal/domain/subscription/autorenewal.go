package subscription

import "time"

// AutoRenewal is one queued renewal for a subscription. Rows are consumed
// FIFO by ascending id when the subscription transitions to reached, at
// most one per tracker tick.
type AutoRenewal struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	SubscriptionID uint `gorm:"index" json:"subscription_id"`

	LimitUsage int64 `gorm:"type:bigint;default:0" json:"limit_usage"`

	// LimitExpire uses the subscription sign semantics; a positive value
	// here is a duration added to the renewal moment.
	LimitExpire int64 `gorm:"type:bigint;default:0" json:"limit_expire"`

	// ResetUsage zeroes current usage when the renewal applies.
	ResetUsage bool `gorm:"default:false" json:"reset_usage"`

	CreatedAt time.Time `json:"created_at"`
}

func (AutoRenewal) TableName() string {
	return "subscription_auto_renewals"
}

// NextAutoRenewal returns the oldest queued renewal (lowest id), or nil
// when the queue is empty.
func (s *Subscription) NextAutoRenewal() *AutoRenewal {
	var next *AutoRenewal
	for i := range s.AutoRenewals {
		r := &s.AutoRenewals[i]
		if next == nil || r.ID < next.ID {
			next = r
		}
	}
	return next
}

// Apply mutates the subscription with this renewal's replacement quotas
// and clears the reached state.
func (r *AutoRenewal) Apply(s *Subscription, now time.Time) {
	s.LimitUsage = r.LimitUsage
	switch {
	case r.LimitExpire < 0:
		s.LimitExpire = r.LimitExpire
	case r.LimitExpire > 0:
		s.LimitExpire = now.Unix() + r.LimitExpire
	default:
		s.LimitExpire = 0
	}
	s.Reached = false
	s.ReachedAt = nil
	s.OnReachedExpire = false
	s.OnReachedUsage = false
	if r.ResetUsage {
		s.ResetUsage = s.TotalUsage
		t := now
		s.LastResetAt = &t
	}
}
