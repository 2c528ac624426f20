package subscription

import (
	"math"
	"time"
)

// Usage is one (subscription, node, hour bucket) accounting row.
// RawUsage mirrors the node's monotonic lifetime counter as last seen;
// Usage holds our rate-adjusted credited bytes.
type Usage struct {
	ID             uint  `gorm:"primaryKey" json:"id"`
	SubscriptionID uint  `gorm:"index:idx_usage_sub_node" json:"subscription_id"`
	NodeID         uint  `gorm:"index:idx_usage_sub_node" json:"node_id"`
	Usage          int64 `gorm:"type:bigint;default:0" json:"usage"`
	RawUsage       int64 `gorm:"column:_usage;type:bigint;default:0" json:"-"`

	// CreatedAt is the upstream user's creation moment, used to match the
	// row against a recreated upstream user.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Usage) TableName() string {
	return "subscription_usages"
}

// ApplyCounter folds a new lifetime counter observation into the row.
// A lower counter means the upstream node reset: the raw counter is
// re-based without crediting any bytes. A higher counter credits the
// rate-scaled delta. Returns whether the row changed and whether a reset
// was detected.
func (u *Usage) ApplyCounter(counter int64, rate float64, now time.Time) (changed, reset bool) {
	d := counter - u.RawUsage
	switch {
	case d < 0:
		u.RawUsage = counter
		u.UpdatedAt = now
		return true, true
	case d > 0:
		u.Usage += int64(math.Round(float64(d) * rate))
		if u.Usage < 0 {
			u.Usage = 0
		}
		u.RawUsage = counter
		u.UpdatedAt = now
		return true, false
	default:
		return false, false
	}
}

// NewUsage builds the first accounting row for a (subscription, node)
// pair from an initial counter observation.
func NewUsage(subID, nodeID uint, counter int64, rate float64, createdAt, now time.Time) *Usage {
	return &Usage{
		SubscriptionID: subID,
		NodeID:         nodeID,
		Usage:          int64(math.Round(float64(counter) * rate)),
		RawUsage:       counter,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}
}

// UsageLog is an hourly aggregate of credited bytes per subscription.
type UsageLog struct {
	ID             uint  `gorm:"primaryKey" json:"id"`
	SubscriptionID uint  `gorm:"index" json:"subscription_id"`
	Usage          int64 `gorm:"type:bigint;default:0" json:"usage"`

	// CreatedAt is truncated to the hour bucket the bytes accrued in.
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UsageLog) TableName() string {
	return "subscription_logs"
}
