package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// ServiceRepositoryImpl implements the service.Repository interface.
type ServiceRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

// NewServiceRepository creates a new service repository instance.
func NewServiceRepository(db *gorm.DB, logger logger.Interface) service.Repository {
	return &ServiceRepositoryImpl{db: db, logger: logger}
}

func (r *ServiceRepositoryImpl) Create(ctx context.Context, s *service.Service) error {
	if err := r.db.WithContext(ctx).Omit("Nodes").Create(s).Error; err != nil {
		r.logger.Errorw("failed to create service", "error", err)
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

func (r *ServiceRepositoryImpl) Update(ctx context.Context, s *service.Service) error {
	if err := r.db.WithContext(ctx).Omit("Nodes").Save(s).Error; err != nil {
		r.logger.Errorw("failed to update service", "service_id", s.ID, "error", err)
		return fmt.Errorf("failed to update service: %w", err)
	}
	return nil
}

func (r *ServiceRepositoryImpl) GetByID(ctx context.Context, id uint) (*service.Service, error) {
	var s service.Service
	err := r.db.WithContext(ctx).Preload("Nodes").First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Errorw("failed to get service", "service_id", id, "error", err)
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &s, nil
}

func (r *ServiceRepositoryImpl) GetByIDs(ctx context.Context, ids []uint) ([]*service.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var services []*service.Service
	err := r.db.WithContext(ctx).Preload("Nodes").Where("id IN ?", ids).Find(&services).Error
	if err != nil {
		r.logger.Errorw("failed to get services", "error", err)
		return nil, fmt.Errorf("failed to get services: %w", err)
	}
	return services, nil
}

func (r *ServiceRepositoryImpl) List(ctx context.Context, page, size int) ([]*service.Service, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&service.Service{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count services: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var services []*service.Service
	err := r.db.WithContext(ctx).
		Preload("Nodes").
		Order("id ASC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&services).Error
	if err != nil {
		r.logger.Errorw("failed to list services", "error", err)
		return nil, 0, fmt.Errorf("failed to list services: %w", err)
	}
	return services, total, nil
}

// Delete hard-deletes the service and its association rows.
func (r *ServiceRepositoryImpl) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM service_node_association WHERE service_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM service_admin_association WHERE service_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM service_subscription_association WHERE service_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&service.Service{}, id).Error
	})
	if err != nil {
		r.logger.Errorw("failed to delete service", "service_id", id, "error", err)
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

func (r *ServiceRepositoryImpl) SetNodes(ctx context.Context, s *service.Service, nodeIDs []uint) error {
	rows := make([]map[string]any, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		rows = append(rows, map[string]any{"service_id": s.ID, "node_id": id})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM service_node_association WHERE service_id = ?", s.ID).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Table("service_node_association").Create(rows).Error
	})
	if err != nil {
		r.logger.Errorw("failed to set service nodes", "service_id", s.ID, "error", err)
		return fmt.Errorf("failed to set service nodes: %w", err)
	}
	return nil
}

func (r *ServiceRepositoryImpl) UserCount(ctx context.Context, id uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("service_subscription_association AS ssa").
		Joins("JOIN subscriptions ON subscriptions.id = ssa.subscription_id").
		Where("ssa.service_id = ? AND subscriptions.removed = ?", id, false).
		Count(&count).Error
	if err != nil {
		r.logger.Errorw("failed to count service users", "service_id", id, "error", err)
		return 0, fmt.Errorf("failed to count service users: %w", err)
	}
	return count, nil
}
