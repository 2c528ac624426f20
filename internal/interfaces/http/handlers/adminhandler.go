package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/infrastructure/auth"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type AdminHandler struct {
	admins admin.Repository
	cache  *cache.AdminCache
	hasher *auth.BcryptPasswordHasher
	logger logger.Interface
}

func NewAdminHandler(admins admin.Repository, adminCache *cache.AdminCache, hasher *auth.BcryptPasswordHasher, log logger.Interface) *AdminHandler {
	return &AdminHandler{
		admins: admins,
		cache:  adminCache,
		hasher: hasher,
		logger: log,
	}
}

type createAdminRequest struct {
	Username string     `json:"username" binding:"required,min=3,max=64"`
	Password string     `json:"password" binding:"required,min=8"`
	Role     admin.Role `json:"role" binding:"required,oneof=owner seller reseller"`

	CreateAccess bool `json:"create_access"`
	UpdateAccess bool `json:"update_access"`
	RemoveAccess bool `json:"remove_access"`

	CountLimit int64 `json:"count_limit"`
	UsageLimit int64 `json:"usage_limit"`

	ServiceIDs []uint `json:"service_ids"`
}

func (h *AdminHandler) Create(c *gin.Context) {
	var req createAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.admins.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if existing != nil {
		utils.ErrorResponse(c, http.StatusConflict, "username already taken")
		return
	}

	hashed, err := h.hasher.Hash(req.Password)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	a := &admin.Admin{
		Enabled:        true,
		Username:       &req.Username,
		HashedPassword: hashed,
		Role:           req.Role,
		APIKey:         keys.NewAPIKey(),
		Secret:         keys.NewSecret(),
		CreateAccess:   req.CreateAccess,
		UpdateAccess:   req.UpdateAccess,
		RemoveAccess:   req.RemoveAccess,
		CountLimit:     req.CountLimit,
		UsageLimit:     req.UsageLimit,
	}
	if err := h.admins.Create(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if len(req.ServiceIDs) > 0 {
		if err := h.admins.SetServices(c.Request.Context(), a, req.ServiceIDs); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}
	h.cache.Update(a)

	utils.CreatedResponse(c, gin.H{"admin": a, "api_key": a.APIKey})
}

func (h *AdminHandler) List(c *gin.Context) {
	p := utils.ParsePagination(c)
	admins, total, err := h.admins.List(c.Request.Context(), p.Page, p.PageSize)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.ListSuccessResponse(c, admins, total, p.Page, p.PageSize)
}

func (h *AdminHandler) Get(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", a)
}

type updateAdminRequest struct {
	Enabled  *bool   `json:"enabled"`
	Password *string `json:"password"`

	CreateAccess *bool `json:"create_access"`
	UpdateAccess *bool `json:"update_access"`
	RemoveAccess *bool `json:"remove_access"`

	CountLimit *int64 `json:"count_limit"`
	UsageLimit *int64 `json:"usage_limit"`

	AccessPrefix      *string `json:"access_prefix"`
	AccessTitle       *string `json:"access_title"`
	AccessDescription *string `json:"access_description"`
	AccessTag         *string `json:"access_tag"`
	UsernameTag       *bool   `json:"username_tag"`
	ConfigRename      *string `json:"config_rename"`
	Announce          *string `json:"announce"`
	AnnounceURL       *string `json:"announce_url"`
	SupportURL        *string `json:"support_url"`
	UpdateInterval    *int    `json:"update_interval"`
	MaxLinks          *int    `json:"max_links"`
	ShuffleLinks      *bool   `json:"shuffle_links"`

	Placeholders *[]admin.Placeholder `json:"placeholders"`

	ExpireWarningDays   *int `json:"expire_warning_days"`
	UsageWarningPercent *int `json:"usage_warning_percent"`

	TelegramStatus            *bool   `json:"telegram_status"`
	TelegramToken             *string `json:"telegram_token"`
	TelegramID                *string `json:"telegram_id"`
	TelegramLoggerID          *string `json:"telegram_logger_id"`
	TelegramTopicID           *string `json:"telegram_topic_id"`
	TelegramSendSubscriptions *bool   `json:"telegram_send_subscriptions"`

	DiscordWebhookStatus     *bool   `json:"discord_webhook_status"`
	DiscordWebhookURL        *string `json:"discord_webhook_url"`
	DiscordSendSubscriptions *bool   `json:"discord_send_subscriptions"`

	ServiceIDs *[]uint `json:"service_ids"`
}

func (h *AdminHandler) Update(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}

	var req updateAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.Password != nil && *req.Password != "" {
		hashed, err := h.hasher.Hash(*req.Password)
		if err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		now := biztime.NowUTC()
		a.HashedPassword = hashed
		a.LastPasswordResetAt = &now
	}

	applyAdminUpdate(a, &req)

	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if req.ServiceIDs != nil {
		if err := h.admins.SetServices(c.Request.Context(), a, *req.ServiceIDs); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}
	h.cache.Update(a)

	utils.SuccessResponse(c, http.StatusOK, "", a)
}

// RotateAPIKey issues a fresh api key, invalidating the old one.
func (h *AdminHandler) RotateAPIKey(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}

	a.APIKey = keys.NewAPIKey()
	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.cache.Update(a)
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"api_key": a.APIKey})
}

func (h *AdminHandler) Delete(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	if a.IsOwner() {
		utils.ErrorResponse(c, http.StatusForbidden, "owner admin cannot be removed")
		return
	}
	if err := h.admins.Remove(c.Request.Context(), a.ID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.cache.Remove(a)
	utils.NoContentResponse(c)
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.admins.Stats(c.Request.Context())
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", stats)
}

// applyAdminUpdate copies the set fields of a partial update onto the
// admin row.
func applyAdminUpdate(a *admin.Admin, req *updateAdminRequest) {
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	if req.CreateAccess != nil {
		a.CreateAccess = *req.CreateAccess
	}
	if req.UpdateAccess != nil {
		a.UpdateAccess = *req.UpdateAccess
	}
	if req.RemoveAccess != nil {
		a.RemoveAccess = *req.RemoveAccess
	}
	if req.CountLimit != nil {
		a.CountLimit = *req.CountLimit
	}
	if req.UsageLimit != nil {
		a.UsageLimit = *req.UsageLimit
	}
	if req.AccessPrefix != nil {
		a.AccessPrefix = req.AccessPrefix
	}
	if req.AccessTitle != nil {
		a.AccessTitle = req.AccessTitle
	}
	if req.AccessDescription != nil {
		a.AccessDescription = req.AccessDescription
	}
	if req.AccessTag != nil {
		a.AccessTag = req.AccessTag
	}
	if req.UsernameTag != nil {
		a.UsernameTag = *req.UsernameTag
	}
	if req.ConfigRename != nil {
		a.ConfigRename = req.ConfigRename
	}
	if req.Announce != nil {
		a.Announce = req.Announce
	}
	if req.AnnounceURL != nil {
		a.AnnounceURL = req.AnnounceURL
	}
	if req.SupportURL != nil {
		a.SupportURL = req.SupportURL
	}
	if req.UpdateInterval != nil {
		a.UpdateInterval = *req.UpdateInterval
	}
	if req.MaxLinks != nil {
		a.MaxLinks = *req.MaxLinks
	}
	if req.ShuffleLinks != nil {
		a.ShuffleLinks = *req.ShuffleLinks
	}
	if req.Placeholders != nil {
		if raw, err := json.Marshal(*req.Placeholders); err == nil {
			a.Placeholders = raw
		}
	}
	if req.ExpireWarningDays != nil {
		a.ExpireWarningDays = req.ExpireWarningDays
	}
	if req.UsageWarningPercent != nil {
		a.UsageWarningPercent = req.UsageWarningPercent
	}
	if req.TelegramStatus != nil {
		a.TelegramStatus = *req.TelegramStatus
	}
	if req.TelegramToken != nil {
		a.TelegramToken = req.TelegramToken
	}
	if req.TelegramID != nil {
		a.TelegramID = req.TelegramID
	}
	if req.TelegramLoggerID != nil {
		a.TelegramLoggerID = req.TelegramLoggerID
	}
	if req.TelegramTopicID != nil {
		a.TelegramTopicID = req.TelegramTopicID
	}
	if req.TelegramSendSubscriptions != nil {
		a.TelegramSendSubscriptions = *req.TelegramSendSubscriptions
	}
	if req.DiscordWebhookStatus != nil {
		a.DiscordWebhookStatus = *req.DiscordWebhookStatus
	}
	if req.DiscordWebhookURL != nil {
		a.DiscordWebhookURL = req.DiscordWebhookURL
	}
	if req.DiscordSendSubscriptions != nil {
		a.DiscordSendSubscriptions = *req.DiscordSendSubscriptions
	}
}

func (h *AdminHandler) load(c *gin.Context) (*admin.Admin, bool) {
	id, err := utils.ParseIDParam(c, "id", "admin")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	a, err := h.admins.GetByID(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	if a == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "admin not found")
		return nil, false
	}
	return a, true
}
