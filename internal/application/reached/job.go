// Package reached runs the quota lifecycle cycle: warning flags, the
// reached transition, auto-renewals, reconnects, and auto-deletes.
package reached

import (
	"context"
	"fmt"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// Job executes one reached-tracker cycle and fans the outcome out to
// the notification sinks. The database transition itself is atomic; the
// upstream cleanup for auto-deleted rows is best effort afterwards.
type Job struct {
	subs     subscription.Repository
	nodes    node.Repository
	guard    *guard.Manager
	notifier *notification.Service
	logger   logger.Interface
}

func NewJob(subs subscription.Repository, nodes node.Repository, guardManager *guard.Manager, notifier *notification.Service, log logger.Interface) *Job {
	return &Job{
		subs:     subs,
		nodes:    nodes,
		guard:    guardManager,
		notifier: notifier,
		logger:   log,
	}
}

func (j *Job) Execute(ctx context.Context) (int, error) {
	now := biztime.NowUTC()

	report, err := j.subs.RunReachedCycle(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("reached cycle: %w", err)
	}

	for _, sub := range report.Reached {
		j.notifier.SubscriptionReached(sub, now)
	}
	for _, sub := range report.Renewed {
		j.notifier.AutoRenewalExecuted(sub)
	}
	for _, sub := range report.Reconnect {
		j.notifier.SubscriptionReconnected(sub)
	}

	if len(report.Deleted) > 0 {
		j.cleanupDeleted(ctx, report.Deleted)
	}

	total := len(report.Reached) + len(report.Renewed) + len(report.Reconnect) + len(report.Deleted)
	if total > 0 {
		j.notifier.SystemLog(fmt.Sprintf(
			"ReachedTracker: reached=%d renewed=%d reconnected=%d deleted=%d",
			len(report.Reached), len(report.Renewed), len(report.Reconnect), len(report.Deleted)))
	}
	return total, nil
}

// cleanupDeleted drops the upstream users of auto-deleted subscriptions
// from every availabled node.
func (j *Job) cleanupDeleted(ctx context.Context, deleted []*subscription.Subscription) {
	availabled := true
	nodes, _, err := j.nodes.List(ctx, node.ListFilter{Availabled: &availabled})
	if err != nil {
		j.logger.Errorw("failed to list nodes for auto-delete cleanup", "error", err)
		return
	}
	for _, sub := range deleted {
		j.guard.RemoveUser(ctx, nodes, sub.ServerKey)
		j.notifier.SubscriptionAutoDeleted(sub)
	}
}
