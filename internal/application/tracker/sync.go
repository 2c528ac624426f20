package tracker

import (
	"context"
	"time"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
)

// startSync launches the upstream convergence pass in the background.
// Only one pass runs at a time; an overlapping cycle is reported and
// dropped rather than queued.
func (r *Reconciler) startSync(subs []*subscription.Subscription, nodes []*node.Node, snap snapshot, now time.Time) {
	if !r.syncMu.TryLock() {
		r.logger.Warnw("subscription sync still running, skipping cycle")
		r.notifier.LockedTask("subscriptions-sync")
		return
	}
	go func() {
		defer r.syncMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		r.sync(ctx, subs, nodes, snap, now)
	}()
}

func (r *Reconciler) sync(ctx context.Context, subs []*subscription.Subscription, nodes []*node.Node, snap snapshot, now time.Time) {
	sem := make(chan struct{}, syncWorkers)
	done := make(chan struct{})
	pending := 0

	submit := func(fn func()) {
		pending++
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			fn()
		}()
	}

	for _, sub := range subs {
		sub := sub
		if sub.ShouldBeRemoved(now) {
			continue
		}
		inSet := sub.NodeIDs()
		for _, n := range nodes {
			n := n
			state, ok := snap[n.ID]
			if !ok {
				continue
			}
			user := state.users[sub.ServerKey]
			configs := state.configs
			submit(func() { r.syncOne(ctx, sub, n, user, configs, inSet[n.ID], now) })
		}
	}
	for ; pending > 0; pending-- {
		<-done
	}

	r.collectUnknown(ctx, subs, nodes, snap, now)
}

// syncOne converges one subscription on one node: create when missing,
// deactivate when the node is disabled or out of scope, otherwise align
// grants and panel status.
func (r *Reconciler) syncOne(ctx context.Context, sub *subscription.Subscription, n *node.Node, user *nodeclient.User, configs []nodeclient.Config, inSet bool, now time.Time) {
	active := sub.IsActive(now)

	if user == nil {
		if active && inSet {
			if err := r.guard.CreateUser(ctx, n, sub, configs); err != nil {
				r.logger.Warnw("failed to create upstream user",
					"node", n.Remark, "username", sub.ServerKey, "error", err)
			}
		}
		return
	}

	if !n.Availabled() || !inSet {
		if user.Enabled {
			if err := r.guard.DeactivateUser(ctx, n, sub.ServerKey); err != nil {
				r.logger.Warnw("failed to deactivate upstream user",
					"node", n.Remark, "username", sub.ServerKey, "error", err)
			}
		}
		return
	}

	if _, err := r.guard.SyncUser(ctx, n, sub, user, configs); err != nil {
		r.logger.Warnw("failed to sync upstream user",
			"node", n.Remark, "username", sub.ServerKey, "error", err)
		return
	}

	switch {
	case active && !user.Enabled:
		if err := r.guard.ActivateUser(ctx, n, sub.ServerKey); err != nil {
			r.logger.Warnw("failed to activate upstream user",
				"node", n.Remark, "username", sub.ServerKey, "error", err)
		}
	case !active && user.Enabled:
		if err := r.guard.DeactivateUser(ctx, n, sub.ServerKey); err != nil {
			r.logger.Warnw("failed to deactivate upstream user",
				"node", n.Remark, "username", sub.ServerKey, "error", err)
		}
	}
}

// collectUnknown removes upstream users no live subscription projects
// anymore: orphans from deleted rows and subscriptions past the removal
// grace. The reserved guard user always survives.
func (r *Reconciler) collectUnknown(ctx context.Context, subs []*subscription.Subscription, nodes []*node.Node, snap snapshot, now time.Time) {
	projected := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if !sub.ShouldBeRemoved(now) {
			projected[sub.ServerKey] = true
		}
	}

	byID := make(map[uint]*node.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	for nodeID, state := range snap {
		n := byID[nodeID]
		if n == nil {
			continue
		}
		target := []*node.Node{n}
		for username := range state.users {
			if username == guard.GuardUsername || projected[username] {
				continue
			}
			r.logger.Infow("removing orphan upstream user", "node", n.Remark, "username", username)
			r.guard.RemoveUser(ctx, target, username)
		}
	}
}
