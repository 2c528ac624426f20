// Package admin defines panel operators, their quotas, presentation
// config, and notification sinks.
package admin

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/moguard-inc/moguard/internal/domain/service"
)

// Role is the admin privilege tier.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleSeller   Role = "seller"
	RoleReseller Role = "reseller"
)

const (
	// DefaultAccessTag is the path tag used when an admin has not set one.
	DefaultAccessTag = "guards"

	// DefaultExpireWarningDays triggers the expiry warning flag.
	DefaultExpireWarningDays = 1

	// DefaultUsageWarningPercent triggers the usage warning flag.
	DefaultUsageWarningPercent = 90
)

// Placeholder is a synthetic link template shown to clients. Categories
// select which subscription states emit it.
type Placeholder struct {
	Remark     string   `json:"remark"`
	Address    string   `json:"address,omitempty"`
	Port       int      `json:"port,omitempty"`
	UUID       string   `json:"uuid,omitempty"`
	Categories []string `json:"categories"`
}

// Admin is a panel operator owning subscriptions.
type Admin struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Enabled   bool       `gorm:"default:true" json:"enabled"`
	Removed   bool       `gorm:"default:false;index" json:"-"`
	RemovedAt *time.Time `json:"-"`

	Username       *string `gorm:"size:64;uniqueIndex" json:"username"`
	HashedPassword string  `gorm:"column:password;size:64" json:"-"`
	Role           Role    `gorm:"size:32" json:"role"`

	APIKey string `gorm:"size:64;index" json:"-"`
	Secret string `gorm:"size:32" json:"-"`

	CreateAccess bool `gorm:"default:false" json:"create_access"`
	UpdateAccess bool `gorm:"default:false" json:"update_access"`
	RemoveAccess bool `gorm:"default:false" json:"remove_access"`

	CountLimit   int64 `json:"count_limit"`
	UsageLimit   int64 `gorm:"type:bigint" json:"usage_limit"`
	CurrentCount int64 `gorm:"default:0" json:"current_count"`
	CurrentUsage int64 `gorm:"type:bigint;default:0" json:"current_usage"`

	AccessPrefix      *string `gorm:"size:256" json:"access_prefix,omitempty"`
	AccessTitle       *string `gorm:"size:64" json:"access_title,omitempty"`
	AccessDescription *string `gorm:"size:256" json:"access_description,omitempty"`
	AccessTag         *string `gorm:"size:30" json:"access_tag,omitempty"`
	UsernameTag       bool    `gorm:"default:false" json:"username_tag"`
	ConfigRename      *string `gorm:"size:256" json:"config_rename,omitempty"`
	Announce          *string `gorm:"size:256" json:"announce,omitempty"`
	AnnounceURL       *string `gorm:"size:256" json:"announce_url,omitempty"`
	SupportURL        *string `gorm:"size:256" json:"support_url,omitempty"`
	UpdateInterval    int     `json:"update_interval"`
	MaxLinks          int     `json:"max_links"`
	ShuffleLinks      bool    `gorm:"default:false" json:"shuffle_links"`

	Placeholders datatypes.JSON `json:"placeholders,omitempty"`

	ExpireWarningDays   *int `json:"expire_warning_days,omitempty"`
	UsageWarningPercent *int `json:"usage_warning_percent,omitempty"`

	TelegramStatus            bool    `gorm:"default:false" json:"telegram_status"`
	TelegramToken             *string `gorm:"size:256" json:"-"`
	TelegramID                *string `gorm:"size:256" json:"telegram_id,omitempty"`
	TelegramLoggerID          *string `gorm:"size:64" json:"telegram_logger_id,omitempty"`
	TelegramTopicID           *string `gorm:"size:64" json:"telegram_topic_id,omitempty"`
	TelegramSendSubscriptions bool    `gorm:"default:false" json:"telegram_send_subscriptions"`

	DiscordWebhookStatus     bool    `gorm:"default:false" json:"discord_webhook_status"`
	DiscordWebhookURL        *string `gorm:"size:256" json:"-"`
	DiscordSendSubscriptions bool    `gorm:"default:false" json:"discord_send_subscriptions"`

	TOTPSecret        *string    `gorm:"size:32" json:"-"`
	TOTPSecretPending *string    `gorm:"size:32" json:"-"`
	TOTPStatus        bool       `gorm:"default:false" json:"totp_status"`
	LastTOTPRevokedAt *time.Time `json:"-"`

	LastPasswordResetAt *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastOnlineAt        *time.Time `json:"last_online_at,omitempty"`
	LastBackupAt        *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Services []service.Service `gorm:"many2many:service_admin_association" json:"services,omitempty"`
}

func (Admin) TableName() string {
	return "admins"
}

// UsernameOrEmpty returns the username or "" for removed admins.
func (a *Admin) UsernameOrEmpty() string {
	if a.Username == nil {
		return ""
	}
	return *a.Username
}

// IsOwner reports whether the admin holds the owner role.
func (a *Admin) IsOwner() bool {
	return a.Role == RoleOwner
}

// TelegramChatID prefers the logger chat over the personal chat.
func (a *Admin) TelegramChatID() string {
	if a.TelegramLoggerID != nil && *a.TelegramLoggerID != "" {
		return *a.TelegramLoggerID
	}
	if a.TelegramID != nil {
		return *a.TelegramID
	}
	return ""
}

// LeftUsage returns remaining quota bytes, or nil when unlimited.
func (a *Admin) LeftUsage() *int64 {
	if a.UsageLimit == 0 {
		return nil
	}
	left := a.UsageLimit - a.CurrentUsage
	return &left
}

// ReachedUsageLimit reports whether the usage quota is exhausted.
func (a *Admin) ReachedUsageLimit() bool {
	left := a.LeftUsage()
	return left != nil && *left <= 0
}

// LeftCount returns remaining subscription slots, or nil when unlimited.
func (a *Admin) LeftCount() *int64 {
	if a.CountLimit == 0 {
		return nil
	}
	left := a.CountLimit - a.CurrentCount
	return &left
}

// ReachedCountLimit reports whether the subscription slot quota is exhausted.
func (a *Admin) ReachedCountLimit() bool {
	left := a.LeftCount()
	return left != nil && *left <= 0
}

// Availabled reports whether the admin's subscriptions stay serviceable.
func (a *Admin) Availabled() bool {
	return a.Enabled && !a.Removed && !a.ReachedUsageLimit()
}

// Tag returns the subscription path tag, falling back to the default.
func (a *Admin) Tag() string {
	if a.AccessTag != nil && *a.AccessTag != "" {
		return *a.AccessTag
	}
	return DefaultAccessTag
}

// ExpireWarning returns the configured warning window in days.
func (a *Admin) ExpireWarning() int {
	if a.ExpireWarningDays != nil && *a.ExpireWarningDays > 0 {
		return *a.ExpireWarningDays
	}
	return DefaultExpireWarningDays
}

// UsageWarning returns the configured warning threshold percent.
func (a *Admin) UsageWarning() int {
	if a.UsageWarningPercent != nil && *a.UsageWarningPercent > 0 {
		return *a.UsageWarningPercent
	}
	return DefaultUsageWarningPercent
}

// ServiceIDs returns the ids of the admin's granted services.
func (a *Admin) ServiceIDs() []uint {
	ids := make([]uint, 0, len(a.Services))
	for i := range a.Services {
		ids = append(ids, a.Services[i].ID)
	}
	return ids
}

// PlaceholderList decodes the placeholder templates, returning nil on
// malformed JSON so a bad template never breaks link generation.
func (a *Admin) PlaceholderList() []Placeholder {
	if len(a.Placeholders) == 0 {
		return nil
	}
	var out []Placeholder
	if err := json.Unmarshal(a.Placeholders, &out); err != nil {
		return nil
	}
	return out
}

// PlaceholdersByCategory filters placeholders carrying the given category.
func (a *Admin) PlaceholdersByCategory(category string) []Placeholder {
	var out []Placeholder
	for _, p := range a.PlaceholderList() {
		for _, c := range p.Categories {
			if c == category {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
