package admin

import "context"

// Stats aggregates admin counts for the stats endpoint.
type Stats struct {
	Total   int64 `json:"total"`
	Enabled int64 `json:"enabled"`
	Debted  int64 `json:"debted"`
}

// Repository is the persistence contract for admins.
type Repository interface {
	Create(ctx context.Context, a *Admin) error
	Update(ctx context.Context, a *Admin) error
	GetByID(ctx context.Context, id uint) (*Admin, error)
	GetByUsername(ctx context.Context, username string) (*Admin, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Admin, error)
	List(ctx context.Context, page, size int) ([]*Admin, int64, error)
	ListAll(ctx context.Context) ([]*Admin, error)
	Remove(ctx context.Context, id uint) error

	SetServices(ctx context.Context, a *Admin, serviceIDs []uint) error

	// SyncCurrentCounts rewrites every admin's current_count from the live
	// subscription rows in a single statement.
	SyncCurrentCounts(ctx context.Context) error

	// AddCurrentUsage accrues hourly usage deltas, one statement per owner.
	AddCurrentUsage(ctx context.Context, deltas map[uint]int64) error

	TouchLastOnline(ctx context.Context, id uint) error
	Stats(ctx context.Context) (*Stats, error)
}
