package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/application/links"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/constants"
	"github.com/moguard-inc/moguard/internal/shared/format"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// plainAgents are client prefixes that expect a raw link list instead of
// the base64 subscription body.
var plainAgents = []string{"clash", "stash", "mihomo", "sing-box", "singbox"}

type ClientHandler struct {
	subs      subscription.Repository
	generator *links.Generator
	guard     *guard.Manager
	notifier  *notification.Service
	logger    logger.Interface
}

func NewClientHandler(subs subscription.Repository, generator *links.Generator, guardManager *guard.Manager, notifier *notification.Service, log logger.Interface) *ClientHandler {
	return &ClientHandler{
		subs:      subs,
		generator: generator,
		guard:     guardManager,
		notifier:  notifier,
		logger:    log,
	}
}

// Fetch serves the link bundle to subscription clients. The route is
// keyed by the owner's tag and the subscription access key.
func (h *ClientHandler) Fetch(c *gin.Context) {
	tag := c.Param("tag")
	key := c.Param("key")

	sub, err := h.subs.GetByAccessKey(c.Request.Context(), key)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if sub == nil || sub.Owner == nil || sub.Owner.Tag() != tag {
		c.Status(http.StatusNotFound)
		return
	}

	now := biztime.NowUTC()
	agent := c.GetHeader(constants.HeaderUserAgent)
	bundle := h.generator.Bundle(sub, now)

	h.writeHeaders(c, sub, now)

	body := strings.Join(bundle, "\n")
	if !wantsPlain(agent, c.Query("plain")) {
		body = base64.StdEncoding.EncodeToString([]byte(body))
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))

	h.touch(sub, agent)
	if !sub.Changed {
		h.markChanged(sub)
	}
}

// markChanged rotates the upstream users away from the shared template
// the first time a client ever pulls the bundle, then leaves the flag
// set for the rest of the subscription's lifetime.
func (h *ClientHandler) markChanged(sub *subscription.Subscription) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := h.subs.SetChanged(ctx, sub.ID, true); err != nil {
			h.logger.Warnw("failed to mark subscription changed",
				"subscription", sub.UsernameOrEmpty(), "error", err)
			return
		}
		sub.Changed = true
		h.guard.RevokeSubscription(ctx, sub.Nodes(), sub)
	}()
}

func (h *ClientHandler) writeHeaders(c *gin.Context, sub *subscription.Subscription, now time.Time) {
	owner := sub.Owner
	vars := sub.FormatMap(now)

	c.Header("profile-web-page-url", sub.Link())

	title := sub.UsernameOrEmpty()
	if owner.AccessTitle != nil && *owner.AccessTitle != "" {
		title = format.Render(*owner.AccessTitle, vars)
	}
	c.Header("profile-title", "base64:"+base64.StdEncoding.EncodeToString([]byte(title)))

	interval := owner.UpdateInterval
	if interval <= 0 {
		interval = 1
	}
	c.Header("profile-update-interval", fmt.Sprintf("%d", interval))

	expire := sub.LimitExpire
	if expire < 0 {
		expire = 0
	}
	c.Header("subscription-userinfo", fmt.Sprintf(
		"upload=0; download=%d; total=%d; expire=%d",
		sub.CurrentUsage(), sub.LimitUsage, expire))

	if owner.Announce != nil && *owner.Announce != "" {
		c.Header("announce", "base64:"+base64.StdEncoding.EncodeToString(
			[]byte(format.Render(*owner.Announce, vars))))
	}
	if owner.AnnounceURL != nil && *owner.AnnounceURL != "" {
		c.Header("announce-url", format.Render(*owner.AnnounceURL, vars))
	}
	if owner.SupportURL != nil && *owner.SupportURL != "" {
		c.Header("support-url", format.Render(*owner.SupportURL, vars))
	}
}

type clientInfo struct {
	Username     string     `json:"username"`
	Enabled      bool       `json:"enabled"`
	IsActive     bool       `json:"is_active"`
	LimitUsage   int64      `json:"limit_usage"`
	CurrentUsage int64      `json:"current_usage"`
	LimitExpire  int64      `json:"limit_expire"`
	OnlineAt     *time.Time `json:"online_at,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// Info serves the subscription state as JSON for client apps that show
// account details alongside the config list.
func (h *ClientHandler) Info(c *gin.Context) {
	tag := c.Param("tag")
	key := c.Param("key")

	sub, err := h.subs.GetByAccessKey(c.Request.Context(), key)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if sub == nil || sub.Owner == nil || sub.Owner.Tag() != tag {
		c.Status(http.StatusNotFound)
		return
	}

	now := biztime.NowUTC()
	c.JSON(http.StatusOK, clientInfo{
		Username:     sub.UsernameOrEmpty(),
		Enabled:      sub.Enabled,
		IsActive:     sub.IsActive(now),
		LimitUsage:   sub.LimitUsage,
		CurrentUsage: sub.CurrentUsage(),
		LimitExpire:  sub.LimitExpire,
		OnlineAt:     sub.OnlineAt,
		Note:         sub.Note,
	})
}

// touch records the hit off the request goroutine and fires the
// first-request notification exactly once.
func (h *ClientHandler) touch(sub *subscription.Subscription, agent string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		first, err := h.subs.SetLastRequest(ctx, sub.ID, agent, biztime.NowUTC())
		if err != nil {
			h.logger.Warnw("failed to record client request",
				"subscription", sub.UsernameOrEmpty(), "error", err)
			return
		}
		if first {
			h.notifier.SubscriptionFirstRequested(sub, agent)
		}
	}()
}

func wantsPlain(agent, query string) bool {
	if query == "true" {
		return true
	}
	lower := strings.ToLower(agent)
	for _, prefix := range plainAgents {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
