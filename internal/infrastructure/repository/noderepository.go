package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// NodeRepositoryImpl implements the node.Repository interface.
type NodeRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Interface
}

// NewNodeRepository creates a new node repository instance.
func NewNodeRepository(db *gorm.DB, logger logger.Interface) node.Repository {
	return &NodeRepositoryImpl{db: db, logger: logger}
}

func (r *NodeRepositoryImpl) Create(ctx context.Context, n *node.Node) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.logger.Errorw("failed to create node", "error", err)
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

func (r *NodeRepositoryImpl) Update(ctx context.Context, n *node.Node) error {
	if err := r.db.WithContext(ctx).Save(n).Error; err != nil {
		r.logger.Errorw("failed to update node", "node_id", n.ID, "error", err)
		return fmt.Errorf("failed to update node: %w", err)
	}
	return nil
}

func (r *NodeRepositoryImpl) getOne(ctx context.Context, cond string, arg any) (*node.Node, error) {
	var n node.Node
	err := r.db.WithContext(ctx).
		Where("removed = ?", false).
		Where(cond, arg).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Errorw("failed to get node", "error", err)
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &n, nil
}

func (r *NodeRepositoryImpl) GetByID(ctx context.Context, id uint) (*node.Node, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *NodeRepositoryImpl) GetByRemark(ctx context.Context, remark string) (*node.Node, error) {
	return r.getOne(ctx, "remark = ?", remark)
}

func (r *NodeRepositoryImpl) List(ctx context.Context, filter node.ListFilter) ([]*node.Node, int64, error) {
	query := r.db.WithContext(ctx).Model(&node.Node{}).Where("removed = ?", filter.Removed)

	if filter.Availabled != nil {
		query = query.Where("enabled = ?", *filter.Availabled)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		r.logger.Errorw("failed to count nodes", "error", err)
		return nil, 0, fmt.Errorf("failed to count nodes: %w", err)
	}

	query = query.Order("priority DESC, id ASC")
	if filter.Size > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.Size).Limit(filter.Size)
	}

	var nodes []*node.Node
	if err := query.Find(&nodes).Error; err != nil {
		r.logger.Errorw("failed to list nodes", "error", err)
		return nil, 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, total, nil
}

func (r *NodeRepositoryImpl) ListNeedingAccess(ctx context.Context) ([]*node.Node, error) {
	deadline := time.Now().UTC().Add(-node.AccessTTL)
	var nodes []*node.Node
	err := r.db.WithContext(ctx).
		Where("removed = ?", false).
		Where("access IS NULL OR access = '' OR access_updated_at IS NULL OR access_updated_at < ?", deadline).
		Find(&nodes).Error
	if err != nil {
		r.logger.Errorw("failed to list nodes needing access", "error", err)
		return nil, fmt.Errorf("failed to list nodes needing access: %w", err)
	}
	return nodes, nil
}

func (r *NodeRepositoryImpl) UpsertAccess(ctx context.Context, id uint, token string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&node.Node{}).
		Where("id = ?", id).
		Updates(map[string]any{"access": token, "access_updated_at": at}).Error
	if err != nil {
		r.logger.Errorw("failed to store node access token", "node_id", id, "error", err)
		return fmt.Errorf("failed to store node access token: %w", err)
	}
	return nil
}

func (r *NodeRepositoryImpl) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	err := r.db.WithContext(ctx).Model(&node.Node{}).
		Where("id = ? AND removed = ?", id, false).
		Update("enabled", enabled).Error
	if err != nil {
		r.logger.Errorw("failed to set node enabled", "node_id", id, "error", err)
		return fmt.Errorf("failed to set node enabled: %w", err)
	}
	return nil
}

func (r *NodeRepositoryImpl) Remove(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&node.Node{}).
		Where("id = ?", id).
		Updates(map[string]any{"removed": true, "enabled": false}).Error
	if err != nil {
		r.logger.Errorw("failed to remove node", "node_id", id, "error", err)
		return fmt.Errorf("failed to remove node: %w", err)
	}
	return nil
}

func (r *NodeRepositoryImpl) Stats(ctx context.Context) (*node.Stats, error) {
	var stats node.Stats
	err := r.db.WithContext(ctx).Model(&node.Node{}).
		Where("removed = ?", false).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN enabled THEN 1 ELSE 0 END), 0) AS enabled,
			COALESCE(SUM(CASE WHEN enabled THEN 0 ELSE 1 END), 0) AS disabled`).
		Scan(&stats).Error
	if err != nil {
		r.logger.Errorw("failed to get node stats", "error", err)
		return nil, fmt.Errorf("failed to get node stats: %w", err)
	}
	return &stats, nil
}
