package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// Quota predicates shared by listings, stats, and the reached cycle.
// They must agree with Subscription.Limited and Subscription.Expired.
const (
	limitedExpr    = "limit_usage > 0 AND (total_usage - reset_usage) > limit_usage"
	notLimitedExpr = "NOT (" + limitedExpr + ")"
	expiredExpr    = "limit_expire > 0 AND limit_expire < ?"
	notExpiredExpr = "NOT (" + expiredExpr + ")"
)

var allowedSubscriptionOrderBy = map[string]bool{
	"id":              true,
	"username":        true,
	"created_at":      true,
	"total_usage":     true,
	"limit_usage":     true,
	"limit_expire":    true,
	"online_at":       true,
	"last_request_at": true,
}

// SubscriptionRepositoryImpl implements the subscription.Repository
// interface.
type SubscriptionRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

// NewSubscriptionRepository creates a new subscription repository instance.
func NewSubscriptionRepository(db *gorm.DB, logger logger.Interface) subscription.Repository {
	return &SubscriptionRepositoryImpl{db: db, logger: logger}
}

func (r *SubscriptionRepositoryImpl) live(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&subscription.Subscription{}).Where("removed = ?", false)
}

func (r *SubscriptionRepositoryImpl) BulkCreate(ctx context.Context, subs []*subscription.Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	counts := make(map[uint]int)
	for _, s := range subs {
		counts[s.OwnerID]++
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range subs {
			if err := tx.Omit("Owner", "Services.*").Create(s).Error; err != nil {
				return err
			}
		}
		for ownerID, n := range counts {
			err := tx.Exec("UPDATE admins SET current_count = current_count + ? WHERE id = ?", n, ownerID).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Errorw("failed to bulk create subscriptions", "count", len(subs), "error", err)
		return fmt.Errorf("failed to bulk create subscriptions: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) Update(ctx context.Context, s *subscription.Subscription) error {
	err := r.db.WithContext(ctx).Omit("Owner", "Services", "AutoRenewals").Save(s).Error
	if err != nil {
		r.logger.Errorw("failed to update subscription", "subscription_id", s.ID, "error", err)
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) getOne(ctx context.Context, cond string, arg any) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := r.db.WithContext(ctx).
		Preload("Owner.Services").
		Preload("Services.Nodes").
		Preload("AutoRenewals", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("removed = ?", false).
		Where(cond, arg).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Errorw("failed to get subscription", "error", err)
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &s, nil
}

func (r *SubscriptionRepositoryImpl) GetByID(ctx context.Context, id uint) (*subscription.Subscription, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *SubscriptionRepositoryImpl) GetByUsername(ctx context.Context, username string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "username = ?", username)
}

func (r *SubscriptionRepositoryImpl) GetByAccessKey(ctx context.Context, accessKey string) (*subscription.Subscription, error) {
	return r.getOne(ctx, "access_key = ?", accessKey)
}

func (r *SubscriptionRepositoryImpl) ListUsernames(ctx context.Context, usernames []string) ([]string, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var existing []string
	err := r.live(ctx).Where("username IN ?", usernames).Pluck("username", &existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check usernames: %w", err)
	}
	return existing, nil
}

func (r *SubscriptionRepositoryImpl) ListByUsernames(ctx context.Context, usernames []string) ([]*subscription.Subscription, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var subs []*subscription.Subscription
	err := r.db.WithContext(ctx).
		Preload("Owner.Services").
		Preload("Services.Nodes").
		Where("removed = ? AND username IN ?", false, usernames).
		Find(&subs).Error
	if err != nil {
		r.logger.Errorw("failed to list subscriptions by username", "error", err)
		return nil, fmt.Errorf("failed to list subscriptions by username: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepositoryImpl) applyFilter(query *gorm.DB, f subscription.ListFilter, now time.Time) *gorm.DB {
	query = query.Where("removed = ?", f.Removed)
	if f.OwnerID != nil {
		query = query.Where("owner_id = ?", *f.OwnerID)
	}
	if f.Enabled != nil {
		query = query.Where("enabled = ?", *f.Enabled)
	}
	if f.Limited != nil {
		if *f.Limited {
			query = query.Where(limitedExpr)
		} else {
			query = query.Where(notLimitedExpr)
		}
	}
	if f.Expired != nil {
		if *f.Expired {
			query = query.Where(expiredExpr, now.Unix())
		} else {
			query = query.Where(notExpiredExpr, now.Unix())
		}
	}
	if f.IsActive != nil {
		active := "enabled AND activated AND NOT debted AND " + notLimitedExpr + " AND " + notExpiredExpr
		if *f.IsActive {
			query = query.Where(active, now.Unix())
		} else {
			query = query.Where("NOT ("+active+")", now.Unix())
		}
	}
	if f.Online != nil {
		deadline := now.Add(-subscription.OnlineWindow)
		if *f.Online {
			query = query.Where("online_at IS NOT NULL AND online_at >= ?", deadline)
		} else {
			query = query.Where("online_at IS NULL OR online_at < ?", deadline)
		}
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("username LIKE ? OR note LIKE ?", like, like)
	}
	return query
}

func (r *SubscriptionRepositoryImpl) List(ctx context.Context, f subscription.ListFilter) ([]*subscription.Subscription, int64, error) {
	now := time.Now().UTC()
	query := r.applyFilter(r.db.WithContext(ctx).Model(&subscription.Subscription{}), f, now)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.Errorw("failed to count subscriptions", "error", err)
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	// Order-by goes through a whitelist; anything else falls back to id.
	field := strings.ToLower(f.OrderBy)
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	if !allowedSubscriptionOrderBy[field] {
		field, desc = "id", false
	}
	order := field + " ASC"
	if desc {
		order = field + " DESC"
	}
	query = query.Order(order)

	if f.Size > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * f.Size).Limit(f.Size)
	}

	var subs []*subscription.Subscription
	err := query.
		Preload("Owner.Services").
		Preload("Services.Nodes").
		Preload("AutoRenewals", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Find(&subs).Error
	if err != nil {
		r.logger.Errorw("failed to list subscriptions", "error", err)
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, total, nil
}

func (r *SubscriptionRepositoryImpl) Count(ctx context.Context, f subscription.ListFilter) (int64, error) {
	var total int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&subscription.Subscription{}), f, time.Now().UTC())
	if err := query.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return total, nil
}

func (r *SubscriptionRepositoryImpl) ListWithGraph(ctx context.Context) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	err := r.db.WithContext(ctx).
		Preload("Owner.Services").
		Preload("Services.Nodes").
		Preload("AutoRenewals", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("removed = ?", false).
		Find(&subs).Error
	if err != nil {
		r.logger.Errorw("failed to load subscription graph", "error", err)
		return nil, fmt.Errorf("failed to load subscription graph: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepositoryImpl) bulkUpdate(ctx context.Context, ids []uint, values map[string]any, op string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.live(ctx).Where("id IN ?", ids).Updates(values).Error
	if err != nil {
		r.logger.Errorw("failed to bulk "+op+" subscriptions", "count", len(ids), "error", err)
		return fmt.Errorf("failed to bulk %s subscriptions: %w", op, err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) BulkEnable(ctx context.Context, ids []uint) error {
	return r.bulkUpdate(ctx, ids, map[string]any{"enabled": true, "inactive_at": nil}, "enable")
}

func (r *SubscriptionRepositoryImpl) BulkDisable(ctx context.Context, ids []uint, now time.Time) error {
	return r.bulkUpdate(ctx, ids, map[string]any{"enabled": false, "inactive_at": now}, "disable")
}

// BulkRevoke rotates each access key individually since every row gets
// its own fresh key.
func (r *SubscriptionRepositoryImpl) BulkRevoke(ctx context.Context, ids []uint, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			err := tx.Model(&subscription.Subscription{}).
				Where("id = ? AND removed = ?", id, false).
				Updates(map[string]any{
					"access_key":     keys.NewAccessKey(),
					"last_revoke_at": now,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Errorw("failed to bulk revoke subscriptions", "count", len(ids), "error", err)
		return fmt.Errorf("failed to bulk revoke subscriptions: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) BulkReset(ctx context.Context, ids []uint, now time.Time) error {
	return r.bulkUpdate(ctx, ids, map[string]any{
		"reset_usage":   gorm.Expr("total_usage"),
		"last_reset_at": now,
	}, "reset")
}

func (r *SubscriptionRepositoryImpl) BulkRemove(ctx context.Context, ids []uint, now time.Time) error {
	return r.bulkUpdate(ctx, ids, map[string]any{
		"removed":    true,
		"username":   nil,
		"removed_at": now,
	}, "remove")
}

func (r *SubscriptionRepositoryImpl) AttachService(ctx context.Context, ids []uint, serviceID uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			err := tx.Exec(`INSERT IGNORE INTO service_subscription_association (service_id, subscription_id) VALUES (?, ?)`,
				serviceID, id).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Errorw("failed to attach service", "service_id", serviceID, "error", err)
		return fmt.Errorf("failed to attach service: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) DetachService(ctx context.Context, ids []uint, serviceID uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Exec("DELETE FROM service_subscription_association WHERE service_id = ? AND subscription_id IN ?", serviceID, ids).Error
	if err != nil {
		r.logger.Errorw("failed to detach service", "service_id", serviceID, "error", err)
		return fmt.Errorf("failed to detach service: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) AddAutoRenewal(ctx context.Context, renewal *subscription.AutoRenewal) error {
	err := r.db.WithContext(ctx).Create(renewal).Error
	if err != nil {
		r.logger.Errorw("failed to add auto renewal", "subscription_id", renewal.SubscriptionID, "error", err)
		return fmt.Errorf("failed to add auto renewal: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) DeleteAutoRenewal(ctx context.Context, subID, renewalID uint) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND subscription_id = ?", renewalID, subID).
		Delete(&subscription.AutoRenewal{}).Error
	if err != nil {
		r.logger.Errorw("failed to delete auto renewal", "renewal_id", renewalID, "error", err)
		return fmt.Errorf("failed to delete auto renewal: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) SetDebtedByOwners(ctx context.Context, ownerIDs []uint, debted bool) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	err := r.live(ctx).Where("owner_id IN ?", ownerIDs).Update("debted", debted).Error
	if err != nil {
		r.logger.Errorw("failed to set debted flag", "owners", len(ownerIDs), "error", err)
		return fmt.Errorf("failed to set debted flag: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) SetChanged(ctx context.Context, id uint, changed bool) error {
	err := r.live(ctx).Where("id = ?", id).Update("changed", changed).Error
	if err != nil {
		return fmt.Errorf("failed to set changed flag: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) SetLastRequest(ctx context.Context, id uint, agent string, at time.Time) (bool, error) {
	if len(agent) > 256 {
		agent = agent[:256]
	}

	var first bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row struct{ LastRequestAt *time.Time }
		err := tx.Model(&subscription.Subscription{}).
			Select("last_request_at").
			Where("id = ?", id).
			Take(&row).Error
		if err != nil {
			return err
		}
		first = row.LastRequestAt == nil

		values := map[string]any{"last_request_at": at}
		if agent != "" {
			values["last_client_agent"] = agent
		}
		return tx.Model(&subscription.Subscription{}).Where("id = ?", id).Updates(values).Error
	})
	if err != nil {
		r.logger.Errorw("failed to set last request", "subscription_id", id, "error", err)
		return false, fmt.Errorf("failed to set last request: %w", err)
	}
	return first, nil
}

func (r *SubscriptionRepositoryImpl) ActivateExpire(ctx context.Context, id uint, expire int64) error {
	// Guard on the sign so two concurrent activations cannot double-apply.
	err := r.live(ctx).
		Where("id = ? AND limit_expire < 0", id).
		Update("limit_expire", expire).Error
	if err != nil {
		r.logger.Errorw("failed to activate expire", "subscription_id", id, "error", err)
		return fmt.Errorf("failed to activate expire: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) Stats(ctx context.Context, ownerID *uint) (*subscription.Stats, error) {
	now := time.Now().UTC()
	query := r.live(ctx)
	if ownerID != nil {
		query = query.Where("owner_id = ?", *ownerID)
	}

	var stats subscription.Stats
	err := query.Select(`COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN enabled AND activated AND NOT debted AND `+notLimitedExpr+` AND NOT (limit_expire > 0 AND limit_expire < ?) THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN NOT enabled THEN 1 ELSE 0 END), 0) AS disabled,
		COALESCE(SUM(CASE WHEN `+limitedExpr+` THEN 1 ELSE 0 END), 0) AS limited,
		COALESCE(SUM(CASE WHEN limit_expire > 0 AND limit_expire < ? THEN 1 ELSE 0 END), 0) AS expired,
		COALESCE(SUM(CASE WHEN reached THEN 1 ELSE 0 END), 0) AS reached,
		COALESCE(SUM(CASE WHEN online_at IS NOT NULL AND online_at >= ? THEN 1 ELSE 0 END), 0) AS online`,
		now.Unix(), now.Unix(), now.Add(-subscription.OnlineWindow)).
		Scan(&stats).Error
	if err != nil {
		r.logger.Errorw("failed to get subscription stats", "error", err)
		return nil, fmt.Errorf("failed to get subscription stats: %w", err)
	}
	return &stats, nil
}
