package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/subscription"
)

// Warning thresholds fall back to the admin defaults when the owner has
// not configured them.
const (
	expireWarningExpr = `limit_expire > 0 AND (limit_expire - ?) / 86400 <= (
		SELECT COALESCE(admins.expire_warning_days, 1) FROM admins WHERE admins.id = subscriptions.owner_id)`
	usageWarningExpr = `limit_usage > 0 AND (total_usage - reset_usage) * 100.0 / limit_usage >= (
		SELECT COALESCE(admins.usage_warning_percent, 90) FROM admins WHERE admins.id = subscriptions.owner_id)`
)

// RunReachedCycle executes one pass of the quota lifecycle in a single
// transaction: refresh warning flags, mark newly reached rows, consume
// one auto-renewal per still-reached row, clear rows that recovered, and
// soft-delete rows reached past their auto-delete window.
func (r *SubscriptionRepositoryImpl) RunReachedCycle(ctx context.Context, now time.Time) (*subscription.ReachedReport, error) {
	report := &subscription.ReachedReport{}
	nowTS := now.Unix()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		live := func() *gorm.DB {
			return tx.Model(&subscription.Subscription{}).Where("removed = ?", false)
		}
		loadSubs := func(ids []uint) ([]*subscription.Subscription, error) {
			if len(ids) == 0 {
				return nil, nil
			}
			var subs []*subscription.Subscription
			err := tx.Preload("Owner").Where("id IN ?", ids).Find(&subs).Error
			return subs, err
		}

		// Warning flags are recomputed both ways every pass so a topped-up
		// quota clears its warning.
		if err := live().Where(expireWarningExpr, nowTS).Update("onreached_expire", true).Error; err != nil {
			return err
		}
		if err := live().Where("NOT ("+expireWarningExpr+")", nowTS).Update("onreached_expire", false).Error; err != nil {
			return err
		}
		if err := live().Where(usageWarningExpr).Update("onreached_usage", true).Error; err != nil {
			return err
		}
		if err := live().Where("NOT (" + usageWarningExpr + ")").Update("onreached_usage", false).Error; err != nil {
			return err
		}

		// Newly reached.
		var reachedIDs []uint
		err := live().
			Where("reached = ?", false).
			Where("("+limitedExpr+") OR ("+expiredExpr+")", nowTS).
			Pluck("id", &reachedIDs).Error
		if err != nil {
			return err
		}
		if len(reachedIDs) > 0 {
			err = live().Where("id IN ?", reachedIDs).
				Updates(map[string]any{"reached": true, "reached_at": now}).Error
			if err != nil {
				return err
			}
		}

		// Auto-renewals: consume the oldest queued renewal of every row
		// that is reached and still over a limit.
		var candidates []*subscription.Subscription
		err = tx.Preload("Owner").
			Preload("AutoRenewals", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
			Where("removed = ? AND reached = ?", false, true).
			Where("("+limitedExpr+") OR ("+expiredExpr+")", nowTS).
			Find(&candidates).Error
		if err != nil {
			return err
		}
		for _, sub := range candidates {
			renewal := sub.NextAutoRenewal()
			if renewal == nil {
				continue
			}
			renewal.Apply(sub, now)

			values := map[string]any{
				"limit_usage":      sub.LimitUsage,
				"limit_expire":     sub.LimitExpire,
				"reached":          false,
				"reached_at":       nil,
				"onreached_expire": false,
				"onreached_usage":  false,
			}
			if renewal.ResetUsage {
				values["reset_usage"] = sub.ResetUsage
				values["last_reset_at"] = now
			}
			err = tx.Model(&subscription.Subscription{}).Where("id = ?", sub.ID).Updates(values).Error
			if err != nil {
				return err
			}
			if err = tx.Delete(&subscription.AutoRenewal{}, renewal.ID).Error; err != nil {
				return err
			}
			report.Renewed = append(report.Renewed, sub)
		}

		// Recovered: reached but no longer over any limit.
		var reconnectIDs []uint
		err = live().
			Where("reached = ?", true).
			Where("NOT (("+limitedExpr+") OR ("+expiredExpr+"))", nowTS).
			Pluck("id", &reconnectIDs).Error
		if err != nil {
			return err
		}
		if len(reconnectIDs) > 0 {
			err = live().Where("id IN ?", reconnectIDs).Updates(map[string]any{
				"reached":          false,
				"reached_at":       nil,
				"onreached_expire": false,
				"onreached_usage":  false,
			}).Error
			if err != nil {
				return err
			}
		}

		// Auto-delete: reached long enough ago.
		var deleteIDs []uint
		err = live().
			Where("reached = ? AND auto_delete_days > 0 AND reached_at IS NOT NULL", true).
			Where("reached_at <= DATE_SUB(?, INTERVAL auto_delete_days DAY)", now).
			Pluck("id", &deleteIDs).Error
		if err != nil {
			return err
		}
		deleted, err := loadSubs(deleteIDs)
		if err != nil {
			return err
		}
		if len(deleteIDs) > 0 {
			err = live().Where("id IN ?", deleteIDs).Updates(map[string]any{
				"removed":    true,
				"username":   nil,
				"removed_at": now,
			}).Error
			if err != nil {
				return err
			}
		}

		reached, err := loadSubs(reachedIDs)
		if err != nil {
			return err
		}
		reconnect, err := loadSubs(reconnectIDs)
		if err != nil {
			return err
		}
		report.Reached = reached
		report.Reconnect = reconnect
		report.Deleted = deleted
		return nil
	})
	if err != nil {
		r.logger.Errorw("failed to run reached cycle", "error", err)
		return nil, fmt.Errorf("failed to run reached cycle: %w", err)
	}
	return report, nil
}
