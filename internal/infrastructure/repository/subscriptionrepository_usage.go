package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/subscription"
)

func (r *SubscriptionRepositoryImpl) ListUsages(ctx context.Context, subID uint) ([]*subscription.Usage, error) {
	var usages []*subscription.Usage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subID).
		Order("id ASC").
		Find(&usages).Error
	if err != nil {
		r.logger.Errorw("failed to list usages", "subscription_id", subID, "error", err)
		return nil, fmt.Errorf("failed to list usages: %w", err)
	}
	return usages, nil
}

// BulkUpsertUsages folds one tick's counter samples into the accounting
// rows of a subscription. Rows are matched on (node, upstream created_at)
// so a recreated upstream user starts a fresh row instead of inheriting
// the old counter base. Zero counters are skipped.
func (r *SubscriptionRepositoryImpl) BulkUpsertUsages(
	ctx context.Context,
	sub *subscription.Subscription,
	samples map[uint]subscription.Sample,
	rates map[uint]float64,
	now time.Time,
) (bool, error) {
	if len(samples) == 0 {
		return false, nil
	}

	var existing []*subscription.Usage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", sub.ID).
		Find(&existing).Error
	if err != nil {
		r.logger.Errorw("failed to load usage rows", "subscription_id", sub.ID, "error", err)
		return false, fmt.Errorf("failed to load usage rows: %w", err)
	}

	changed := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for nodeID, sample := range samples {
			if sample.Counter <= 0 {
				continue
			}
			rate := rates[nodeID]
			if rate <= 0 {
				rate = 1.0
			}

			var row *subscription.Usage
			for _, u := range existing {
				if u.NodeID == nodeID && u.CreatedAt.Equal(sample.CreatedAt) {
					row = u
					break
				}
			}

			if row == nil {
				row = subscription.NewUsage(sub.ID, nodeID, sample.Counter, rate, sample.CreatedAt, now)
				if err := tx.Create(row).Error; err != nil {
					return err
				}
				changed = true
				continue
			}

			rowChanged, reset := row.ApplyCounter(sample.Counter, rate, now)
			if !rowChanged {
				continue
			}
			if reset {
				r.logger.Warnw("usage counter decreased, re-basing",
					"subscription_id", sub.ID,
					"node_id", nodeID,
					"counter", sample.Counter)
			}
			err := tx.Model(&subscription.Usage{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"usage":      row.Usage,
					"_usage":     row.RawUsage,
					"updated_at": now,
				}).Error
			if err != nil {
				return err
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		r.logger.Errorw("failed to upsert usages", "subscription_id", sub.ID, "error", err)
		return false, fmt.Errorf("failed to upsert usages: %w", err)
	}
	return changed, nil
}

// SyncCachedUsages recomputes every subscription's cached total_usage and
// online_at from the accounting rows in one statement.
func (r *SubscriptionRepositoryImpl) SyncCachedUsages(ctx context.Context) error {
	err := r.db.WithContext(ctx).Exec(`
		UPDATE subscriptions SET
			total_usage = (
				SELECT COALESCE(SUM(GREATEST(subscription_usages.usage, 0)), 0)
				FROM subscription_usages
				WHERE subscription_usages.subscription_id = subscriptions.id
			),
			online_at = (
				SELECT MAX(subscription_usages.updated_at)
				FROM subscription_usages
				WHERE subscription_usages.subscription_id = subscriptions.id
			)`).Error
	if err != nil {
		r.logger.Errorw("failed to sync cached usages", "error", err)
		return fmt.Errorf("failed to sync cached usages: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) sumByColumn(ctx context.Context, table string) (map[uint]int64, error) {
	var rows []struct {
		SubscriptionID uint
		Total          int64
	}
	err := r.db.WithContext(ctx).
		Table(table).
		Select("subscription_id, COALESCE(SUM(`usage`), 0) AS total").
		Joins("JOIN subscriptions ON subscriptions.id = "+table+".subscription_id").
		Group("subscription_id").
		Scan(&rows).Error
	if err != nil {
		r.logger.Errorw("failed to sum usage", "table", table, "error", err)
		return nil, fmt.Errorf("failed to sum usage from %s: %w", table, err)
	}
	sums := make(map[uint]int64, len(rows))
	for _, row := range rows {
		sums[row.SubscriptionID] = row.Total
	}
	return sums, nil
}

func (r *SubscriptionRepositoryImpl) SumUsages(ctx context.Context) (map[uint]int64, error) {
	return r.sumByColumn(ctx, "subscription_usages")
}

func (r *SubscriptionRepositoryImpl) SumLogs(ctx context.Context) (map[uint]int64, error) {
	return r.sumByColumn(ctx, "subscription_logs")
}

// AppendLog adds a delta into the subscription's log row for the given
// hour bucket, creating the row on first write.
func (r *SubscriptionRepositoryImpl) AppendLog(ctx context.Context, subID uint, delta int64, hour time.Time) error {
	if delta <= 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&subscription.UsageLog{}).
			Where("subscription_id = ? AND created_at >= ? AND created_at < ?",
				subID, hour, hour.Add(time.Hour)).
			Update("usage", gorm.Expr("`usage` + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&subscription.UsageLog{
			SubscriptionID: subID,
			Usage:          delta,
			CreatedAt:      hour,
		}).Error
	})
	if err != nil {
		r.logger.Errorw("failed to append usage log", "subscription_id", subID, "error", err)
		return fmt.Errorf("failed to append usage log: %w", err)
	}
	return nil
}
