// Package node defines upstream proxy nodes and their repository contract.
package node

import (
	"time"
)

// Category identifies the REST dialect a node speaks.
type Category string

const (
	CategoryMarzban    Category = "marzban"
	CategoryMarzneshin Category = "marzneshin"
	CategoryRustneshin Category = "rustneshin"
)

// Valid reports whether the category is one of the supported dialects.
func (c Category) Valid() bool {
	switch c {
	case CategoryMarzban, CategoryMarzneshin, CategoryRustneshin:
		return true
	}
	return false
}

// AccessTTL is how long a cached upstream bearer token stays fresh.
const AccessTTL = 8 * time.Hour

// Node is an upstream proxy host hosting subscription users.
type Node struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	Enabled bool `gorm:"default:true" json:"enabled"`
	Removed bool `gorm:"default:false;index" json:"-"`

	Remark   string   `gorm:"size:128;index" json:"remark"`
	Category Category `gorm:"size:32;not null" json:"category"`
	Username string   `gorm:"size:64" json:"username"`
	Password string   `gorm:"size:64" json:"-"`
	Host     string   `gorm:"size:128" json:"host"`

	UsageRate   float64 `gorm:"default:1" json:"usage_rate"`
	OffsetLink  int     `gorm:"default:0" json:"offset_link"`
	BatchSize   int     `gorm:"default:1" json:"batch_size"`
	Priority    int     `gorm:"default:0" json:"priority"`
	RateDisplay string  `gorm:"size:32" json:"rate_display"`

	Access          *string    `gorm:"size:256" json:"-"`
	AccessUpdatedAt *time.Time `json:"-"`

	ScriptURL    *string `gorm:"size:512" json:"script_url,omitempty"`
	ScriptSecret *string `gorm:"size:256" json:"-"`

	ShowConfigs bool `gorm:"default:true" json:"show_configs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Node) TableName() string {
	return "nodes"
}

// Availabled reports whether the node participates in sync and link output.
func (n *Node) Availabled() bool {
	return n.Enabled && !n.Removed
}

// IsScripted reports whether the node exposes the bulk inventory endpoint.
func (n *Node) IsScripted() bool {
	return n.ScriptURL != nil && *n.ScriptURL != "" &&
		n.ScriptSecret != nil && *n.ScriptSecret != ""
}

// ShouldUpsertAccess reports whether the cached bearer token must be refreshed.
func (n *Node) ShouldUpsertAccess(now time.Time) bool {
	if n.Access == nil || *n.Access == "" {
		return true
	}
	if n.AccessUpdatedAt == nil {
		return true
	}
	return now.Sub(*n.AccessUpdatedAt) > AccessTTL
}

// AccessToken returns the cached bearer token or empty when absent.
func (n *Node) AccessToken() string {
	if n.Access == nil {
		return ""
	}
	return *n.Access
}

// Rate returns the usage multiplier, defaulting to 1.0 when unset.
func (n *Node) Rate() float64 {
	if n.UsageRate <= 0 {
		return 1.0
	}
	return n.UsageRate
}

// Batch returns the interleave batch size, never below 1.
func (n *Node) Batch() int {
	if n.BatchSize < 1 {
		return 1
	}
	return n.BatchSize
}
