// Package subscription defines user-facing subscriptions, their usage
// rows, auto-renewal queue, and the repository contract.
package subscription

import (
	"fmt"
	"strconv"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/shared/format"
)

const (
	// OnlineWindow is how recently a subscription must have been seen
	// upstream to count as online.
	OnlineWindow = 120 * time.Second

	// RemoveGrace is how long a reached or inactive subscription survives
	// on nodes before the reconciler stops projecting it.
	RemoveGrace = 24 * time.Hour
)

// Subscription is a user-facing entity backed by a server_key user on
// every node in its effective node set.
type Subscription struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Username *string `gorm:"size:32;uniqueIndex" json:"username"`
	OwnerID  uint    `gorm:"index" json:"owner_id"`

	// AccessKey is the client-visible secret; ServerKey is the upstream
	// username replicated onto every node.
	AccessKey string `gorm:"size:32;index" json:"-"`
	ServerKey string `gorm:"size:8;index" json:"-"`

	Enabled         bool `gorm:"default:true" json:"enabled"`
	Activated       bool `gorm:"default:true" json:"activated"`
	Reached         bool `gorm:"default:false" json:"reached"`
	Debted          bool `gorm:"default:false" json:"debted"`
	OnReachedExpire bool `gorm:"default:false" json:"onreached_expire"`
	OnReachedUsage  bool `gorm:"default:false" json:"onreached_usage"`
	Removed         bool `gorm:"default:false;index" json:"-"`
	Changed         bool `gorm:"default:false" json:"-"`

	LimitUsage int64 `gorm:"type:bigint;default:0" json:"limit_usage"`
	ResetUsage int64 `gorm:"type:bigint;default:0" json:"reset_usage"`

	// LimitExpire: 0 = unlimited, positive = absolute unix seconds,
	// negative = pending duration that starts on first observed usage.
	LimitExpire int64 `gorm:"type:bigint;default:0" json:"limit_expire"`

	AutoDeleteDays int    `gorm:"default:0" json:"auto_delete_days"`
	Note           string `gorm:"size:1024" json:"note"`

	TotalUsage int64      `gorm:"type:bigint;default:0" json:"total_usage"`
	OnlineAt   *time.Time `json:"online_at,omitempty"`

	TelegramID        *string `gorm:"size:64" json:"telegram_id,omitempty"`
	DiscordWebhookURL *string `gorm:"size:256" json:"-"`

	LastClientAgent *string    `gorm:"size:256" json:"last_client_agent,omitempty"`
	LastResetAt     *time.Time `json:"last_reset_at,omitempty"`
	LastRevokeAt    *time.Time `json:"last_revoke_at,omitempty"`
	LastRequestAt   *time.Time `json:"last_request_at,omitempty"`
	InactiveAt      *time.Time `json:"inactive_at,omitempty"`
	ReachedAt       *time.Time `json:"reached_at,omitempty"`
	RemovedAt       *time.Time `json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Owner        *admin.Admin      `gorm:"foreignKey:OwnerID" json:"-"`
	Services     []service.Service `gorm:"many2many:service_subscription_association" json:"services,omitempty"`
	AutoRenewals []AutoRenewal     `gorm:"foreignKey:SubscriptionID;constraint:OnDelete:CASCADE" json:"auto_renewals,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// UsernameOrEmpty returns the username or "" for removed subscriptions.
func (s *Subscription) UsernameOrEmpty() string {
	if s.Username == nil {
		return ""
	}
	return *s.Username
}

// CurrentUsage is the byte count since the last reset.
func (s *Subscription) CurrentUsage() int64 {
	return s.TotalUsage - s.ResetUsage
}

// Limited reports whether the usage quota is exhausted.
func (s *Subscription) Limited() bool {
	return s.LimitUsage > 0 && s.CurrentUsage() > s.LimitUsage
}

// Expired reports whether the absolute expiry has passed.
func (s *Subscription) Expired(now time.Time) bool {
	return s.LimitExpire > 0 && now.Unix() >= s.LimitExpire
}

// Pending reports whether the expiry clock has not started yet.
func (s *Subscription) Pending() bool {
	return s.LimitExpire < 0
}

// IsOnline reports whether the subscription was seen upstream recently.
func (s *Subscription) IsOnline(now time.Time) bool {
	return s.OnlineAt != nil && now.Sub(*s.OnlineAt) <= OnlineWindow
}

// IsActive reports whether the subscription should be served upstream.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Enabled && s.Activated && !s.Expired(now) && !s.Limited() && !s.Debted
}

// ShouldBeRemoved reports whether the reconciler stops projecting the
// subscription because it has been reached or inactive past the grace.
func (s *Subscription) ShouldBeRemoved(now time.Time) bool {
	if s.ReachedAt != nil && now.Sub(*s.ReachedAt) > RemoveGrace {
		return true
	}
	if s.InactiveAt != nil && now.Sub(*s.InactiveAt) > RemoveGrace {
		return true
	}
	return false
}

// OwnerUsername returns the owner's username or "system" when detached.
func (s *Subscription) OwnerUsername() string {
	if s.Owner != nil && s.Owner.Username != nil {
		return *s.Owner.Username
	}
	return "system"
}

// ServiceIDs returns the selected services the owner is also granted.
func (s *Subscription) ServiceIDs() []uint {
	if s.Owner == nil {
		return nil
	}
	granted := make(map[uint]bool, len(s.Owner.Services))
	for _, id := range s.Owner.ServiceIDs() {
		granted[id] = true
	}
	ids := make([]uint, 0, len(s.Services))
	for i := range s.Services {
		if granted[s.Services[i].ID] {
			ids = append(ids, s.Services[i].ID)
		}
	}
	return ids
}

// Nodes returns the effective node set: the union of non-removed nodes
// over the owner-granted selected services.
func (s *Subscription) Nodes() []*node.Node {
	if s.Owner == nil {
		return nil
	}
	granted := make(map[uint]bool, len(s.Owner.Services))
	for _, id := range s.Owner.ServiceIDs() {
		granted[id] = true
	}
	seen := make(map[uint]bool)
	var nodes []*node.Node
	for i := range s.Services {
		svc := &s.Services[i]
		if !granted[svc.ID] {
			continue
		}
		for j := range svc.Nodes {
			n := &svc.Nodes[j]
			if n.Removed || seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// NodeIDs returns the ids of the effective node set.
func (s *Subscription) NodeIDs() map[uint]bool {
	ids := make(map[uint]bool)
	for _, n := range s.Nodes() {
		ids[n.ID] = true
	}
	return ids
}

// Link builds the client-facing subscription URL from the owner's
// presentation config.
func (s *Subscription) Link() string {
	if s.Owner == nil || s.Owner.AccessPrefix == nil || *s.Owner.AccessPrefix == "" {
		return ""
	}
	link := fmt.Sprintf("%s/%s/%s", *s.Owner.AccessPrefix, s.Owner.Tag(), s.AccessKey)
	if s.Owner.UsernameTag {
		link += "#" + s.UsernameOrEmpty()
	}
	return link
}

// UsagePercentage returns the quota consumption percent, or nil when unlimited.
func (s *Subscription) UsagePercentage() *int {
	if s.LimitUsage <= 0 {
		return nil
	}
	p := int(float64(s.CurrentUsage()) / float64(s.LimitUsage) * 100)
	return &p
}

// FormatMap builds the template variables available to placeholder
// remarks, config renaming, and announce/title headers.
func (s *Subscription) FormatMap(now time.Time) map[string]string {
	vars := map[string]string{
		"id":             strconv.FormatUint(uint64(s.ID), 10),
		"username":       s.UsernameOrEmpty(),
		"owner_username": s.OwnerUsername(),
		"access_key":     s.AccessKey,
		"enabled":        format.BoolEmoji(s.Enabled),
		"activated":      format.BoolEmoji(s.Activated),
		"limited":        format.BoolEmoji(s.Limited()),
		"pending":        format.BoolEmoji(s.Pending()),
		"expired":        format.BoolEmoji(s.Expired(now)),
		"is_active":      format.BoolEmoji(s.IsActive(now)),
		"current_usage":  format.ByteConvert(s.CurrentUsage()),
	}
	if s.LimitUsage > 0 {
		vars["limit_usage"] = format.ByteConvert(s.LimitUsage)
		vars["left_usage"] = format.ByteConvert(s.LimitUsage - s.CurrentUsage())
	} else {
		vars["limit_usage"] = format.Unlimited
		vars["left_usage"] = format.Unlimited
	}
	if s.LimitExpire != 0 {
		vars["expire_date"] = format.DateConvert(s.LimitExpire, now)
		vars["expire_in"] = format.TimeConvert(s.LimitExpire, now)
		vars["expire_in_days"] = strconv.FormatInt(format.DayConvert(s.LimitExpire, now), 10)
	} else {
		vars["expire_date"] = format.Unlimited
		vars["expire_in"] = format.Unlimited
		vars["expire_in_days"] = format.Unlimited
	}
	return vars
}

// Placeholders returns the owner templates applicable to the current
// state: info always, then exactly one of limited/expired/disabled.
// A template listed in several matching categories is emitted once per
// matching set, duplicates included.
func (s *Subscription) Placeholders(now time.Time) []admin.Placeholder {
	if s.Owner == nil {
		return nil
	}
	places := s.Owner.PlaceholdersByCategory("info")
	switch {
	case s.Limited():
		places = append(places, s.Owner.PlaceholdersByCategory("limited")...)
	case s.Expired(now):
		places = append(places, s.Owner.PlaceholdersByCategory("expired")...)
	case !s.Enabled:
		places = append(places, s.Owner.PlaceholdersByCategory("disabled")...)
	}
	return places
}
