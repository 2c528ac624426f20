// Package reseller enforces owner quotas: it refreshes the admin cache
// and flips the debted flag on every subscription of sellers and
// resellers that exhausted their usage quota.
package reseller

import (
	"context"
	"fmt"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

type Job struct {
	admins   admin.Repository
	subs     subscription.Repository
	cache    *cache.AdminCache
	notifier *notification.Service
	logger   logger.Interface

	// debted remembers which owners were flagged last cycle so the
	// transition is announced once, not every minute.
	debted map[uint]bool
}

func NewJob(admins admin.Repository, subs subscription.Repository, adminCache *cache.AdminCache, notifier *notification.Service, log logger.Interface) *Job {
	return &Job{
		admins:   admins,
		subs:     subs,
		cache:    adminCache,
		notifier: notifier,
		logger:   log,
	}
}

func (j *Job) Execute(ctx context.Context) (int, error) {
	admins, err := j.admins.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	j.cache.SetAll(admins)

	var debtedIDs, clearIDs []uint
	nowDebted := make(map[uint]bool)
	for _, a := range admins {
		if a.Role != admin.RoleSeller && a.Role != admin.RoleReseller {
			continue
		}
		if a.ReachedUsageLimit() {
			debtedIDs = append(debtedIDs, a.ID)
			nowDebted[a.ID] = true
		} else {
			clearIDs = append(clearIDs, a.ID)
		}
	}

	if err := j.subs.SetDebtedByOwners(ctx, debtedIDs, true); err != nil {
		return 0, fmt.Errorf("set debted: %w", err)
	}
	if err := j.subs.SetDebtedByOwners(ctx, clearIDs, false); err != nil {
		return 0, fmt.Errorf("clear debted: %w", err)
	}

	if j.debted != nil {
		newly := 0
		for id := range nowDebted {
			if !j.debted[id] {
				newly++
			}
		}
		if newly > 0 {
			j.notifier.SystemLog(fmt.Sprintf("ResellersTracker: %d owner(s) newly reached their usage quota", newly))
		}
	}
	j.debted = nowDebted

	return len(debtedIDs), nil
}
