package service

import "context"

// Repository is the persistence contract for services.
// Services are the only hard-deleted entity in the model.
type Repository interface {
	Create(ctx context.Context, s *Service) error
	Update(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, id uint) (*Service, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*Service, error)
	List(ctx context.Context, page, size int) ([]*Service, int64, error)
	Delete(ctx context.Context, id uint) error

	SetNodes(ctx context.Context, s *Service, nodeIDs []uint) error

	// UserCount returns the number of live subscriptions selecting the service.
	UserCount(ctx context.Context, id uint) (int64, error)
}
