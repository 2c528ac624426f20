package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/interfaces/http/middleware"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

// guardTimeout bounds the background fan-out to upstream panels after a
// bulk operation commits.
const guardTimeout = 2 * time.Minute

type bulkRequest struct {
	Usernames []string `json:"usernames" binding:"required,min=1,max=100"`
}

// loadBulk binds the username list, loads the live rows, and enforces
// the access flag plus ownership for non-owner admins.
func (h *SubscriptionHandler) loadBulk(c *gin.Context, needRemove bool) (*admin.Admin, []*subscription.Subscription, []uint, bool) {
	a := middleware.CurrentAdmin(c)
	if !a.IsOwner() {
		if needRemove && !a.RemoveAccess {
			utils.ErrorResponse(c, http.StatusForbidden, "remove access is not granted")
			return nil, nil, nil, false
		}
		if !needRemove && !a.UpdateAccess {
			utils.ErrorResponse(c, http.StatusForbidden, "update access is not granted")
			return nil, nil, nil, false
		}
	}

	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return nil, nil, nil, false
	}

	subs, err := h.subs.ListByUsernames(c.Request.Context(), req.Usernames)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, nil, nil, false
	}
	if len(subs) == 0 {
		utils.ErrorResponse(c, http.StatusNotFound, "no matching subscriptions")
		return nil, nil, nil, false
	}
	if !a.IsOwner() {
		for _, sub := range subs {
			if sub.OwnerID != a.ID {
				utils.ErrorResponse(c, http.StatusNotFound, "no matching subscriptions")
				return nil, nil, nil, false
			}
		}
	}

	ids := make([]uint, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	return a, subs, ids, true
}

func (h *SubscriptionHandler) BulkEnable(c *gin.Context) {
	a, subs, ids, ok := h.loadBulk(c, false)
	if !ok {
		return
	}
	if err := h.subs.BulkEnable(c.Request.Context(), ids); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.fanout(subs, func(ctx context.Context, sub *subscription.Subscription) {
		for _, n := range sub.Nodes() {
			if err := h.guard.ActivateUser(ctx, n, sub.ServerKey); err != nil {
				h.logger.Warnw("failed to activate upstream user",
					"subscription", sub.UsernameOrEmpty(), "node", n.Remark, "error", err)
			}
		}
	})
	h.notifier.SubscriptionsEnabled(subs, a)
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"count": len(subs)})
}

func (h *SubscriptionHandler) BulkDisable(c *gin.Context) {
	a, subs, ids, ok := h.loadBulk(c, false)
	if !ok {
		return
	}
	if err := h.subs.BulkDisable(c.Request.Context(), ids, biztime.NowUTC()); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.fanout(subs, func(ctx context.Context, sub *subscription.Subscription) {
		for _, n := range sub.Nodes() {
			if err := h.guard.DeactivateUser(ctx, n, sub.ServerKey); err != nil {
				h.logger.Warnw("failed to deactivate upstream user",
					"subscription", sub.UsernameOrEmpty(), "node", n.Remark, "error", err)
			}
		}
	})
	h.notifier.SubscriptionsDisabled(subs, a)
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"count": len(subs)})
}

// BulkReset zeroes current usage and resets the upstream counters so the
// next reconcile tick does not re-ingest the old totals.
func (h *SubscriptionHandler) BulkReset(c *gin.Context) {
	a, subs, ids, ok := h.loadBulk(c, false)
	if !ok {
		return
	}
	if err := h.subs.BulkReset(c.Request.Context(), ids, biztime.NowUTC()); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.fanout(subs, func(ctx context.Context, sub *subscription.Subscription) {
		h.guard.ResetUser(ctx, sub.Nodes(), sub.ServerKey)
	})
	h.notifier.SubscriptionsReset(subs, a)
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"count": len(subs)})
}

// BulkRevoke rotates access keys and pushes the fresh credentials to
// every node in each subscription's effective set.
func (h *SubscriptionHandler) BulkRevoke(c *gin.Context) {
	a, subs, ids, ok := h.loadBulk(c, false)
	if !ok {
		return
	}
	if err := h.subs.BulkRevoke(c.Request.Context(), ids, biztime.NowUTC()); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	usernames := make([]string, 0, len(subs))
	for _, sub := range subs {
		usernames = append(usernames, sub.UsernameOrEmpty())
	}
	// Reload for the rotated access keys before recreating upstream users.
	fresh, err := h.subs.ListByUsernames(c.Request.Context(), usernames)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.fanout(fresh, func(ctx context.Context, sub *subscription.Subscription) {
		h.guard.RevokeSubscription(ctx, sub.Nodes(), sub)
	})
	h.notifier.SubscriptionsRevoked(fresh, a)
	utils.SuccessResponse(c, http.StatusOK, "", fresh)
}

func (h *SubscriptionHandler) BulkRemove(c *gin.Context) {
	a, subs, ids, ok := h.loadBulk(c, true)
	if !ok {
		return
	}
	if err := h.subs.BulkRemove(c.Request.Context(), ids, biztime.NowUTC()); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.fanout(subs, func(ctx context.Context, sub *subscription.Subscription) {
		h.guard.RemoveUser(ctx, sub.Nodes(), sub.ServerKey)
	})
	h.notifier.SubscriptionsDeleted(subs, a)
	utils.NoContentResponse(c)
}

// BulkAttachService adds the path service to every listed subscription;
// the reconciler picks up the widened node set on its next tick.
func (h *SubscriptionHandler) BulkAttachService(c *gin.Context) {
	h.bulkService(c, h.subs.AttachService)
}

func (h *SubscriptionHandler) BulkDetachService(c *gin.Context) {
	h.bulkService(c, h.subs.DetachService)
}

func (h *SubscriptionHandler) bulkService(c *gin.Context, op func(ctx context.Context, ids []uint, serviceID uint) error) {
	a := middleware.CurrentAdmin(c)
	if !a.IsOwner() && !a.UpdateAccess {
		utils.ErrorResponse(c, http.StatusForbidden, "update access is not granted")
		return
	}

	serviceID, err := utils.ParseIDParam(c, "service_id", "service")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := h.subs.ListByUsernames(c.Request.Context(), req.Usernames)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if len(subs) == 0 {
		utils.ErrorResponse(c, http.StatusNotFound, "no matching subscriptions")
		return
	}
	ids := make([]uint, 0, len(subs))
	for _, sub := range subs {
		if !a.IsOwner() && sub.OwnerID != a.ID {
			utils.ErrorResponse(c, http.StatusNotFound, "no matching subscriptions")
			return
		}
		ids = append(ids, sub.ID)
	}

	if err := op(c.Request.Context(), ids, serviceID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"count": len(ids)})
}

// fanout runs the upstream side effect for each subscription off the
// request goroutine; panels can be slow and the rows are already
// committed.
func (h *SubscriptionHandler) fanout(subs []*subscription.Subscription, fn func(ctx context.Context, sub *subscription.Subscription)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), guardTimeout)
		defer cancel()
		for _, sub := range subs {
			fn(ctx, sub)
		}
	}()
}
