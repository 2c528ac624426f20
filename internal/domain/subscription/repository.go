package subscription

import (
	"context"
	"time"
)

// Sample is one upstream observation of a node's lifetime counter for a
// subscription, together with the upstream user's creation time.
type Sample struct {
	Counter   int64
	CreatedAt time.Time
}

// ListFilter narrows subscription listings. Nil fields are ignored.
type ListFilter struct {
	OwnerID  *uint
	Limited  *bool
	Expired  *bool
	IsActive *bool
	Enabled  *bool
	Online   *bool
	Removed  bool
	Search   string
	OrderBy  string
	Page     int
	Size     int
}

// Stats aggregates subscription counts for the stats endpoint.
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Disabled int64 `json:"disabled"`
	Limited  int64 `json:"limited"`
	Expired  int64 `json:"expired"`
	Reached  int64 `json:"reached"`
	Online   int64 `json:"online"`
}

// Repository is the persistence contract for subscriptions and their
// usage accounting rows.
type Repository interface {
	// BulkCreate inserts the subscriptions with their service selections
	// and raises the owner's current_count, all in one transaction.
	BulkCreate(ctx context.Context, subs []*Subscription) error

	Update(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id uint) (*Subscription, error)
	GetByUsername(ctx context.Context, username string) (*Subscription, error)

	// GetByAccessKey loads a live subscription with its owner and the full
	// services-nodes graph; used by the client-facing endpoint.
	GetByAccessKey(ctx context.Context, accessKey string) (*Subscription, error)

	// ListUsernames returns which of the given usernames exist on live rows.
	ListUsernames(ctx context.Context, usernames []string) ([]string, error)
	ListByUsernames(ctx context.Context, usernames []string) ([]*Subscription, error)

	List(ctx context.Context, f ListFilter) ([]*Subscription, int64, error)
	Count(ctx context.Context, f ListFilter) (int64, error)

	// ListWithGraph loads every live subscription with owner grants, the
	// services-nodes projection, and the auto-renewal queue in one shot.
	ListWithGraph(ctx context.Context) ([]*Subscription, error)

	BulkEnable(ctx context.Context, ids []uint) error
	BulkDisable(ctx context.Context, ids []uint, now time.Time) error
	BulkRevoke(ctx context.Context, ids []uint, now time.Time) error
	BulkReset(ctx context.Context, ids []uint, now time.Time) error
	BulkRemove(ctx context.Context, ids []uint, now time.Time) error

	AttachService(ctx context.Context, ids []uint, serviceID uint) error
	DetachService(ctx context.Context, ids []uint, serviceID uint) error

	// Auto-renewal queue management; the reached cycle consumes entries.
	AddAutoRenewal(ctx context.Context, r *AutoRenewal) error
	DeleteAutoRenewal(ctx context.Context, subID, renewalID uint) error

	// SetDebtedByOwners flips the debted flag for every live subscription
	// of the given owners in one statement.
	SetDebtedByOwners(ctx context.Context, ownerIDs []uint, debted bool) error

	// SetChanged flags a subscription for credential regeneration, or
	// clears the flag once the reconciler has pushed fresh credentials.
	SetChanged(ctx context.Context, id uint, changed bool) error

	// SetLastRequest records the client hit and reports whether it was the
	// subscription's first ever request.
	SetLastRequest(ctx context.Context, id uint, agent string, at time.Time) (first bool, err error)

	// ActivateExpire flips a pending (negative) limit_expire to an
	// absolute timestamp once usage is first observed.
	ActivateExpire(ctx context.Context, id uint, expire int64) error

	Stats(ctx context.Context, ownerID *uint) (*Stats, error)

	// RunReachedCycle executes the warning/reached/renewal/reconnect/
	// auto-delete steps in one transaction and returns what changed.
	RunReachedCycle(ctx context.Context, now time.Time) (*ReachedReport, error)

	// Usage accounting.
	ListUsages(ctx context.Context, subID uint) ([]*Usage, error)
	BulkUpsertUsages(ctx context.Context, sub *Subscription, samples map[uint]Sample, rates map[uint]float64, now time.Time) (changed bool, err error)
	SyncCachedUsages(ctx context.Context) error
	SumUsages(ctx context.Context) (map[uint]int64, error)
	SumLogs(ctx context.Context) (map[uint]int64, error)
	AppendLog(ctx context.Context, subID uint, delta int64, hour time.Time) error
}

// ReachedReport describes what one reached-tracker cycle changed, for
// post-commit notification fan-out.
type ReachedReport struct {
	Reached   []*Subscription
	Renewed   []*Subscription
	Reconnect []*Subscription
	Deleted   []*Subscription
}
