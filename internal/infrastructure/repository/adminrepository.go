// Package repository implements the domain persistence contracts on
// GORM/MySQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// AdminRepositoryImpl implements the admin.Repository interface.
type AdminRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

// NewAdminRepository creates a new admin repository instance.
func NewAdminRepository(db *gorm.DB, logger logger.Interface) admin.Repository {
	return &AdminRepositoryImpl{db: db, logger: logger}
}

func (r *AdminRepositoryImpl) live(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&admin.Admin{}).Where("removed = ?", false)
}

func (r *AdminRepositoryImpl) Create(ctx context.Context, a *admin.Admin) error {
	if err := r.db.WithContext(ctx).Omit("Services").Create(a).Error; err != nil {
		r.logger.Errorw("failed to create admin", "error", err)
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) Update(ctx context.Context, a *admin.Admin) error {
	if err := r.db.WithContext(ctx).Omit("Services").Save(a).Error; err != nil {
		r.logger.Errorw("failed to update admin", "admin_id", a.ID, "error", err)
		return fmt.Errorf("failed to update admin: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) getOne(ctx context.Context, cond string, arg any) (*admin.Admin, error) {
	var a admin.Admin
	err := r.db.WithContext(ctx).
		Preload("Services").
		Where("removed = ?", false).
		Where(cond, arg).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Errorw("failed to get admin", "error", err)
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &a, nil
}

func (r *AdminRepositoryImpl) GetByID(ctx context.Context, id uint) (*admin.Admin, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *AdminRepositoryImpl) GetByUsername(ctx context.Context, username string) (*admin.Admin, error) {
	return r.getOne(ctx, "username = ?", username)
}

func (r *AdminRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*admin.Admin, error) {
	return r.getOne(ctx, "api_key = ?", apiKey)
}

func (r *AdminRepositoryImpl) List(ctx context.Context, page, size int) ([]*admin.Admin, int64, error) {
	var total int64
	if err := r.live(ctx).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count admins: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var admins []*admin.Admin
	err := r.db.WithContext(ctx).
		Preload("Services").
		Where("removed = ?", false).
		Order("id ASC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&admins).Error
	if err != nil {
		r.logger.Errorw("failed to list admins", "error", err)
		return nil, 0, fmt.Errorf("failed to list admins: %w", err)
	}
	return admins, total, nil
}

func (r *AdminRepositoryImpl) ListAll(ctx context.Context) ([]*admin.Admin, error) {
	var admins []*admin.Admin
	err := r.db.WithContext(ctx).
		Preload("Services").
		Where("removed = ?", false).
		Order("id ASC").
		Find(&admins).Error
	if err != nil {
		r.logger.Errorw("failed to list all admins", "error", err)
		return nil, fmt.Errorf("failed to list all admins: %w", err)
	}
	return admins, nil
}

func (r *AdminRepositoryImpl) Remove(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	err := r.live(ctx).Where("id = ?", id).Updates(map[string]any{
		"removed":    true,
		"removed_at": now,
		"username":   nil,
	}).Error
	if err != nil {
		r.logger.Errorw("failed to remove admin", "admin_id", id, "error", err)
		return fmt.Errorf("failed to remove admin: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) SetServices(ctx context.Context, a *admin.Admin, serviceIDs []uint) error {
	services := make([]map[string]any, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		services = append(services, map[string]any{"admin_id": a.ID, "service_id": id})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM service_admin_association WHERE admin_id = ?", a.ID).Error; err != nil {
			return err
		}
		if len(services) == 0 {
			return nil
		}
		return tx.Table("service_admin_association").Create(services).Error
	})
	if err != nil {
		r.logger.Errorw("failed to set admin services", "admin_id", a.ID, "error", err)
		return fmt.Errorf("failed to set admin services: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) SyncCurrentCounts(ctx context.Context) error {
	err := r.db.WithContext(ctx).Exec(`
		UPDATE admins SET current_count = (
			SELECT COUNT(*) FROM subscriptions
			WHERE subscriptions.owner_id = admins.id AND subscriptions.removed = false
		)`).Error
	if err != nil {
		r.logger.Errorw("failed to sync admin counts", "error", err)
		return fmt.Errorf("failed to sync admin counts: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) AddCurrentUsage(ctx context.Context, deltas map[uint]int64) error {
	for ownerID, delta := range deltas {
		if delta <= 0 {
			continue
		}
		err := r.db.WithContext(ctx).Model(&admin.Admin{}).
			Where("id = ?", ownerID).
			Update("current_usage", gorm.Expr("current_usage + ?", delta)).Error
		if err != nil {
			r.logger.Errorw("failed to accrue admin usage", "admin_id", ownerID, "error", err)
			return fmt.Errorf("failed to accrue admin usage: %w", err)
		}
	}
	return nil
}

func (r *AdminRepositoryImpl) TouchLastOnline(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&admin.Admin{}).
		Where("id = ?", id).
		Update("last_online_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to touch admin last online: %w", err)
	}
	return nil
}

func (r *AdminRepositoryImpl) Stats(ctx context.Context) (*admin.Stats, error) {
	var stats admin.Stats
	err := r.live(ctx).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN enabled THEN 1 ELSE 0 END), 0) AS enabled,
			COALESCE(SUM(CASE WHEN usage_limit > 0 AND current_usage >= usage_limit THEN 1 ELSE 0 END), 0) AS debted`).
		Scan(&stats).Error
	if err != nil {
		r.logger.Errorw("failed to get admin stats", "error", err)
		return nil, fmt.Errorf("failed to get admin stats: %w", err)
	}
	return &stats, nil
}
