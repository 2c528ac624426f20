package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/interfaces/http/middleware"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/constants"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type SubscriptionHandler struct {
	subs     subscription.Repository
	guard    *guard.Manager
	notifier *notification.Service
	logger   logger.Interface
}

func NewSubscriptionHandler(subs subscription.Repository, guardManager *guard.Manager, notifier *notification.Service, log logger.Interface) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:     subs,
		guard:    guardManager,
		notifier: notifier,
		logger:   log,
	}
}

type subscriptionItem struct {
	Username          string  `json:"username" binding:"required,min=3,max=32"`
	LimitUsage        int64   `json:"limit_usage"`
	LimitExpire       int64   `json:"limit_expire"`
	AutoDeleteDays    int     `json:"auto_delete_days"`
	Note              string  `json:"note" binding:"max=1024"`
	TelegramID        *string `json:"telegram_id"`
	DiscordWebhookURL *string `json:"discord_webhook_url"`
	ServiceIDs        []uint  `json:"service_ids"`
}

type createSubscriptionsRequest struct {
	Subscriptions []subscriptionItem `json:"subscriptions" binding:"required,min=1,dive"`
}

// Create inserts a batch of subscriptions for the calling admin.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	a := middleware.CurrentAdmin(c)
	if a == nil {
		utils.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !a.IsOwner() && !a.CreateAccess {
		utils.ErrorResponse(c, http.StatusForbidden, "create access is not granted")
		return
	}

	var req createSubscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Subscriptions) > constants.MaxBulkSubscriptions {
		utils.ErrorResponse(c, http.StatusBadRequest,
			fmt.Sprintf("at most %d subscriptions per request", constants.MaxBulkSubscriptions))
		return
	}
	if left := a.LeftCount(); left != nil && int64(len(req.Subscriptions)) > *left {
		utils.ErrorResponse(c, http.StatusForbidden, "subscription count limit reached")
		return
	}

	usernames := make([]string, 0, len(req.Subscriptions))
	seen := make(map[string]bool, len(req.Subscriptions))
	for _, item := range req.Subscriptions {
		if seen[item.Username] {
			utils.ErrorResponse(c, http.StatusBadRequest, "duplicate username: "+item.Username)
			return
		}
		seen[item.Username] = true
		usernames = append(usernames, item.Username)
	}
	taken, err := h.subs.ListUsernames(c.Request.Context(), usernames)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if len(taken) > 0 {
		utils.ErrorResponse(c, http.StatusConflict, "usernames already taken: "+strings.Join(taken, ", "))
		return
	}

	subs := make([]*subscription.Subscription, 0, len(req.Subscriptions))
	for i := range req.Subscriptions {
		item := &req.Subscriptions[i]
		username := item.Username
		sub := &subscription.Subscription{
			Username:          &username,
			OwnerID:           a.ID,
			AccessKey:         keys.NewAccessKey(),
			ServerKey:         keys.NewServerKey(),
			Enabled:           true,
			Activated:         true,
			LimitUsage:        item.LimitUsage,
			LimitExpire:       item.LimitExpire,
			AutoDeleteDays:    item.AutoDeleteDays,
			Note:              item.Note,
			TelegramID:        item.TelegramID,
			DiscordWebhookURL: item.DiscordWebhookURL,
		}
		for _, id := range item.ServiceIDs {
			sub.Services = append(sub.Services, service.Service{ID: id})
		}
		subs = append(subs, sub)
	}

	if err := h.subs.BulkCreate(c.Request.Context(), subs); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	for _, sub := range subs {
		sub.Owner = a
	}
	h.notifier.SubscriptionsCreated(subs, a, biztime.NowUTC())

	utils.CreatedResponse(c, subs)
}

func (h *SubscriptionHandler) List(c *gin.Context) {
	a := middleware.CurrentAdmin(c)
	p := utils.ParsePagination(c)

	filter := subscription.ListFilter{
		Search:  c.Query("search"),
		OrderBy: c.Query("order_by"),
		Page:    p.Page,
		Size:    p.PageSize,
	}
	for query, dst := range map[string]**bool{
		"enabled":   &filter.Enabled,
		"limited":   &filter.Limited,
		"expired":   &filter.Expired,
		"is_active": &filter.IsActive,
		"online":    &filter.Online,
	} {
		if raw, ok := c.GetQuery(query); ok {
			v := raw == "true"
			*dst = &v
		}
	}
	if a.IsOwner() {
		if raw, ok := c.GetQuery("owner_id"); ok {
			if id, err := utils.ParseQueryID(raw); err == nil {
				filter.OwnerID = &id
			}
		}
	} else {
		filter.OwnerID = &a.ID
	}

	subs, total, err := h.subs.List(c.Request.Context(), filter)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.ListSuccessResponse(c, subs, total, p.Page, p.PageSize)
}

func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", sub)
}

type updateSubscriptionRequest struct {
	Enabled           *bool   `json:"enabled"`
	LimitUsage        *int64  `json:"limit_usage"`
	LimitExpire       *int64  `json:"limit_expire"`
	AutoDeleteDays    *int    `json:"auto_delete_days"`
	Note              *string `json:"note"`
	TelegramID        *string `json:"telegram_id"`
	DiscordWebhookURL *string `json:"discord_webhook_url"`
	ServiceIDs        *[]uint `json:"service_ids"`
}

func (h *SubscriptionHandler) Update(c *gin.Context) {
	a := middleware.CurrentAdmin(c)
	if !a.IsOwner() && !a.UpdateAccess {
		utils.ErrorResponse(c, http.StatusForbidden, "update access is not granted")
		return
	}
	sub, ok := h.load(c)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var changes []string
	if req.Enabled != nil && *req.Enabled != sub.Enabled {
		changes = append(changes, "enabled")
	}
	if req.LimitUsage != nil && *req.LimitUsage != sub.LimitUsage {
		changes = append(changes, "limit_usage")
	}
	if req.LimitExpire != nil && *req.LimitExpire != sub.LimitExpire {
		changes = append(changes, "limit_expire")
	}
	if req.AutoDeleteDays != nil && *req.AutoDeleteDays != sub.AutoDeleteDays {
		changes = append(changes, "auto_delete_days")
	}
	if req.Note != nil && *req.Note != sub.Note {
		changes = append(changes, "note")
	}

	patch := subscription.Patch{
		Enabled:        req.Enabled,
		LimitUsage:     req.LimitUsage,
		LimitExpire:    req.LimitExpire,
		AutoDeleteDays: req.AutoDeleteDays,
		Note:           req.Note,
		TelegramID:     req.TelegramID,
		DiscordWebhook: req.DiscordWebhookURL,
	}
	patch.Apply(sub)

	if err := h.subs.Update(c.Request.Context(), sub); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if req.ServiceIDs != nil {
		if err := h.setServices(c, sub, *req.ServiceIDs); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
		changes = append(changes, "services")
	}
	if len(changes) > 0 {
		h.notifier.SubscriptionUpdated(sub, a, changes)
	}

	utils.SuccessResponse(c, http.StatusOK, "", sub)
}

// setServices reconciles the selected-service association rows against
// the requested set.
func (h *SubscriptionHandler) setServices(c *gin.Context, sub *subscription.Subscription, want []uint) error {
	current := make(map[uint]bool, len(sub.Services))
	for i := range sub.Services {
		current[sub.Services[i].ID] = true
	}
	wanted := make(map[uint]bool, len(want))
	for _, id := range want {
		wanted[id] = true
	}
	ctx := c.Request.Context()
	for id := range wanted {
		if !current[id] {
			if err := h.subs.AttachService(ctx, []uint{sub.ID}, id); err != nil {
				return err
			}
		}
	}
	for id := range current {
		if !wanted[id] {
			if err := h.subs.DetachService(ctx, []uint{sub.ID}, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *SubscriptionHandler) Stats(c *gin.Context) {
	a := middleware.CurrentAdmin(c)

	var ownerID *uint
	if a.IsOwner() {
		if raw, ok := c.GetQuery("owner_id"); ok {
			if id, err := utils.ParseQueryID(raw); err == nil {
				ownerID = &id
			}
		}
	} else {
		ownerID = &a.ID
	}

	stats, err := h.subs.Stats(c.Request.Context(), ownerID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", stats)
}

func (h *SubscriptionHandler) ListUsages(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	usages, err := h.subs.ListUsages(c.Request.Context(), sub.ID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", usages)
}

type autoRenewalRequest struct {
	LimitUsage  int64 `json:"limit_usage"`
	LimitExpire int64 `json:"limit_expire"`
	ResetUsage  bool  `json:"reset_usage"`
}

func (h *SubscriptionHandler) AddAutoRenewal(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}

	var req autoRenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	renewal := &subscription.AutoRenewal{
		SubscriptionID: sub.ID,
		LimitUsage:     req.LimitUsage,
		LimitExpire:    req.LimitExpire,
		ResetUsage:     req.ResetUsage,
	}
	if err := h.subs.AddAutoRenewal(c.Request.Context(), renewal); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.CreatedResponse(c, renewal)
}

func (h *SubscriptionHandler) ListAutoRenewals(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", sub.AutoRenewals)
}

func (h *SubscriptionHandler) DeleteAutoRenewal(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	renewalID, err := utils.ParseIDParam(c, "renewal_id", "auto renewal")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if err := h.subs.DeleteAutoRenewal(c.Request.Context(), sub.ID, renewalID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.NoContentResponse(c)
}

// load resolves the :username route param and enforces ownership for
// non-owner admins.
func (h *SubscriptionHandler) load(c *gin.Context) (*subscription.Subscription, bool) {
	username := c.Param("username")
	if username == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "username is required")
		return nil, false
	}
	sub, err := h.subs.GetByUsername(c.Request.Context(), username)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	if sub == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "subscription not found")
		return nil, false
	}
	a := middleware.CurrentAdmin(c)
	if a != nil && !a.IsOwner() && sub.OwnerID != a.ID {
		utils.ErrorResponse(c, http.StatusNotFound, "subscription not found")
		return nil, false
	}
	return sub, true
}
