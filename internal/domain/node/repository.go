package node

import (
	"context"
	"time"
)

// ListFilter narrows List results. Nil fields are ignored.
type ListFilter struct {
	Availabled *bool
	Removed    bool
	Page       int
	Size       int
}

// Stats aggregates node counts for the stats endpoint.
type Stats struct {
	Total    int64 `json:"total"`
	Enabled  int64 `json:"enabled"`
	Disabled int64 `json:"disabled"`
}

// Repository is the persistence contract for nodes.
type Repository interface {
	Create(ctx context.Context, n *Node) error
	Update(ctx context.Context, n *Node) error
	GetByID(ctx context.Context, id uint) (*Node, error)
	GetByRemark(ctx context.Context, remark string) (*Node, error)
	List(ctx context.Context, filter ListFilter) ([]*Node, int64, error)

	// ListNeedingAccess returns non-removed nodes whose cached bearer token
	// is missing or older than AccessTTL.
	ListNeedingAccess(ctx context.Context) ([]*Node, error)
	UpsertAccess(ctx context.Context, id uint, token string, at time.Time) error

	SetEnabled(ctx context.Context, id uint, enabled bool) error
	Remove(ctx context.Context, id uint) error
	Stats(ctx context.Context) (*Stats, error)
}
