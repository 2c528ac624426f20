// Package tracker reconciles database state with the upstream panels:
// it snapshots every node's user inventory, ingests usage counters, and
// converges upstream users onto what each subscription should look like.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

const (
	listPageSize = 100

	countAttempts = 3
	countBackoff  = 1500 * time.Millisecond
	pageAttempts  = 10
	pageBackoff   = 2 * time.Second

	syncWorkers = 10
	syncTimeout = 10 * time.Minute
)

// nodeState is one node's view for the cycle: the config inventory it
// answered with and its users keyed by upstream username.
type nodeState struct {
	configs []nodeclient.Config
	users   map[string]*nodeclient.User
}

// snapshot holds one cycle's upstream inventory. Nodes without a usable
// config inventory or that failed to answer are absent, which every
// downstream step treats as "do not touch".
type snapshot map[uint]*nodeState

// Reconciler is the subscription tracker job.
type Reconciler struct {
	subs     subscription.Repository
	admins   admin.Repository
	nodes    node.Repository
	guard    *guard.Manager
	notifier *notification.Service
	logger   logger.Interface

	syncMu sync.Mutex
}

func NewReconciler(
	subs subscription.Repository,
	admins admin.Repository,
	nodes node.Repository,
	guardManager *guard.Manager,
	notifier *notification.Service,
	log logger.Interface,
) *Reconciler {
	return &Reconciler{
		subs:     subs,
		admins:   admins,
		nodes:    nodes,
		guard:    guardManager,
		notifier: notifier,
		logger:   log,
	}
}

func (r *Reconciler) Execute(ctx context.Context) (int, error) {
	now := biztime.NowUTC()

	// Disabled nodes stay in the cycle: their users still need metering,
	// deactivation, and orphan collection.
	nodes, _, err := r.nodes.List(ctx, node.ListFilter{})
	if err != nil {
		return 0, fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	snap := r.fetchSnapshot(ctx, nodes)

	subs, err := r.subs.ListWithGraph(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	processed := r.ingestUsage(ctx, subs, nodes, snap, now)

	if err := r.subs.SyncCachedUsages(ctx); err != nil {
		r.logger.Errorw("failed to sync cached usages", "error", err)
	}
	if err := r.admins.SyncCurrentCounts(ctx); err != nil {
		r.logger.Errorw("failed to sync owner counts", "error", err)
	}

	r.startSync(subs, nodes, snap, now)
	return processed, nil
}

// fetchSnapshot pulls every node's user inventory concurrently. A node
// without a cached config inventory, or that cannot deliver a complete
// user list, is left out of the snapshot and reported as unavailable.
func (r *Reconciler) fetchSnapshot(ctx context.Context, nodes []*node.Node) snapshot {
	snap := make(snapshot, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, n := range nodes {
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			configs, ok := r.guard.ConfigCache().Get(n.ID)
			if !ok || len(configs) == 0 {
				r.logger.Warnw("node has no config inventory", "node", n.Remark)
				r.notifier.UnavailableNode(n)
				return
			}
			users, err := r.fetchNodeUsers(ctx, n)
			if err != nil {
				r.logger.Warnw("node inventory unavailable", "node", n.Remark, "error", err)
				r.notifier.UnavailableNode(n)
				return
			}
			byName := make(map[string]*nodeclient.User, len(users))
			for i := range users {
				byName[users[i].Username] = &users[i]
			}
			mu.Lock()
			snap[n.ID] = &nodeState{configs: configs, users: byName}
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	return snap
}

func (r *Reconciler) fetchNodeUsers(ctx context.Context, n *node.Node) ([]nodeclient.User, error) {
	client, err := nodeclient.New(n)
	if err != nil {
		return nil, err
	}
	if n.IsScripted() {
		return nodeclient.FetchScriptedUsers(ctx, n, client)
	}

	access := n.AccessToken()
	var total int
	if err := withRetry(ctx, countAttempts, countBackoff, func() error {
		total, err = client.UsersCount(ctx, access)
		return err
	}); err != nil {
		return nil, fmt.Errorf("users count: %w", err)
	}

	pages := (total + listPageSize - 1) / listPageSize
	users := make([]nodeclient.User, 0, total)
	for page := 1; page <= pages; page++ {
		var batch []nodeclient.User
		if err := withRetry(ctx, pageAttempts, pageBackoff, func() error {
			batch, err = client.ListUsers(ctx, access, page, listPageSize, nil, nil)
			return err
		}); err != nil {
			return nil, fmt.Errorf("list users page %d: %w", page, err)
		}
		users = append(users, batch...)
	}
	return users, nil
}

func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// ingestUsage folds the snapshot's lifetime counters into usage rows and
// starts pending expire clocks on first observed traffic.
func (r *Reconciler) ingestUsage(ctx context.Context, subs []*subscription.Subscription, nodes []*node.Node, snap snapshot, now time.Time) int {
	processed := 0
	for _, sub := range subs {
		samples := make(map[uint]subscription.Sample)
		rates := make(map[uint]float64)
		for _, n := range nodes {
			state, ok := snap[n.ID]
			if !ok {
				continue
			}
			u, ok := state.users[sub.ServerKey]
			if !ok {
				continue
			}
			samples[n.ID] = subscription.Sample{
				Counter:   u.LifetimeUsedTraffic,
				CreatedAt: u.CreatedAt,
			}
			rates[n.ID] = n.Rate()
		}
		if len(samples) == 0 {
			continue
		}

		changed, err := r.subs.BulkUpsertUsages(ctx, sub, samples, rates, now)
		if err != nil {
			r.logger.Errorw("failed to upsert usages",
				"subscription_id", sub.ID, "error", err)
			continue
		}
		if changed && sub.Pending() {
			expire := now.Unix() - sub.LimitExpire
			if err := r.subs.ActivateExpire(ctx, sub.ID, expire); err == nil {
				sub.LimitExpire = expire
				r.notifier.SubscriptionExpireActivated(sub)
			}
		}
		processed++
	}
	return processed
}
