package guard

import (
	"context"
	"fmt"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// Manager owns the node-facing side of the control plane: acquiring
// access tokens, keeping the config inventory cache warm, and pushing
// subscription state onto panels.
type Manager struct {
	nodes   node.Repository
	configs *cache.ConfigCache
	links   *cache.LinksCache
	logger  logger.Interface
}

func NewManager(nodes node.Repository, configs *cache.ConfigCache, links *cache.LinksCache, log logger.Interface) *Manager {
	return &Manager{
		nodes:   nodes,
		configs: configs,
		links:   links,
		logger:  log,
	}
}

func (m *Manager) ConfigCache() *cache.ConfigCache { return m.configs }
func (m *Manager) LinksCache() *cache.LinksCache   { return m.links }

// Register logs into the panel with the node's stored credentials and
// returns a fresh bearer token.
func (m *Manager) Register(ctx context.Context, n *node.Node) (string, error) {
	client, err := nodeclient.New(n)
	if err != nil {
		return "", err
	}
	token, err := client.GenerateAccessToken(ctx, n.Username, n.Password)
	if err != nil {
		return "", fmt.Errorf("register node %q: %w", n.Remark, err)
	}
	return token, nil
}

// FetchConfigs pulls the node's current config inventory from the panel.
func (m *Manager) FetchConfigs(ctx context.Context, n *node.Node) ([]nodeclient.Config, error) {
	client, err := nodeclient.New(n)
	if err != nil {
		return nil, err
	}
	configs, err := client.GetConfigs(ctx, n.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("fetch configs for node %q: %w", n.Remark, err)
	}
	return configs, nil
}

// ConfigsFor returns the cached inventory for a node, fetching on a cold
// cache. The bool is false when the node has no usable inventory.
func (m *Manager) ConfigsFor(ctx context.Context, n *node.Node) ([]nodeclient.Config, bool) {
	if configs, ok := m.configs.Get(n.ID); ok {
		return configs, true
	}
	configs, err := m.FetchConfigs(ctx, n)
	if err != nil {
		m.logger.Warnw("config inventory unavailable", "node", n.Remark, "error", err)
		return nil, false
	}
	m.configs.Set(n.ID, configs)
	return configs, true
}

// CreateUser creates the subscription's upstream user on one node.
func (m *Manager) CreateUser(ctx context.Context, n *node.Node, sub *subscription.Subscription, configs []nodeclient.Config) error {
	client, err := nodeclient.New(n)
	if err != nil {
		return err
	}
	payload := createPayload(sub, n, configs)
	if err := client.CreateUser(ctx, n.AccessToken(), payload); err != nil {
		return fmt.Errorf("create user %q on node %q: %w", sub.ServerKey, n.Remark, err)
	}
	return nil
}

// SyncUser converges one upstream user's grants onto the wanted configs.
// It returns true when an update was actually sent.
func (m *Manager) SyncUser(ctx context.Context, n *node.Node, sub *subscription.Subscription, current *nodeclient.User, configs []nodeclient.Config) (bool, error) {
	payload := syncPayload(sub, n, configs, current)
	if payload == nil {
		return false, nil
	}
	client, err := nodeclient.New(n)
	if err != nil {
		return false, err
	}
	if err := client.ModifyUser(ctx, n.AccessToken(), sub.ServerKey, payload); err != nil {
		return false, fmt.Errorf("sync user %q on node %q: %w", sub.ServerKey, n.Remark, err)
	}
	return true, nil
}

// ActivateUser enables the upstream user on one node.
func (m *Manager) ActivateUser(ctx context.Context, n *node.Node, username string) error {
	client, err := nodeclient.New(n)
	if err != nil {
		return err
	}
	return client.ActivateUser(ctx, n.AccessToken(), username)
}

// DeactivateUser disables the upstream user on one node.
func (m *Manager) DeactivateUser(ctx context.Context, n *node.Node, username string) error {
	client, err := nodeclient.New(n)
	if err != nil {
		return err
	}
	return client.DeactivateUser(ctx, n.AccessToken(), username)
}

// RemoveUser deletes the upstream user from every given node. A missing
// user counts as removed; node failures are logged and skipped so one
// dead node cannot block a delete.
func (m *Manager) RemoveUser(ctx context.Context, nodes []*node.Node, username string) {
	for _, n := range nodes {
		client, err := nodeclient.New(n)
		if err != nil {
			m.logger.Warnw("cannot build client for removal", "node", n.Remark, "error", err)
			continue
		}
		if err := client.RemoveUser(ctx, n.AccessToken(), username); err != nil && !nodeclient.IsNotFound(err) {
			m.logger.Warnw("failed to remove upstream user",
				"node", n.Remark, "username", username, "error", err)
		}
	}
}

// ResetUser resets the upstream usage counter on every given node.
func (m *Manager) ResetUser(ctx context.Context, nodes []*node.Node, username string) {
	for _, n := range nodes {
		client, err := nodeclient.New(n)
		if err != nil {
			continue
		}
		if err := client.ResetUser(ctx, n.AccessToken(), username); err != nil && !nodeclient.IsNotFound(err) {
			m.logger.Warnw("failed to reset upstream user",
				"node", n.Remark, "username", username, "error", err)
		}
	}
}

// ChangeSubscription pushes freshly derived credentials for a revoked
// access key. Only marzban carries per-user credentials; the other
// dialects derive everything from the key the panel already holds.
func (m *Manager) ChangeSubscription(ctx context.Context, nodes []*node.Node, sub *subscription.Subscription) {
	for _, n := range nodes {
		if n.Category != node.CategoryMarzban {
			continue
		}
		configs, ok := m.ConfigsFor(ctx, n)
		if !ok {
			continue
		}
		client, err := nodeclient.New(n)
		if err != nil {
			continue
		}
		payload := applyConfigs(map[string]any{"username": sub.ServerKey}, sub.AccessKey, n.Category, configs)
		if err := client.ModifyUser(ctx, n.AccessToken(), sub.ServerKey, payload); err != nil {
			m.logger.Warnw("failed to push new credentials",
				"node", n.Remark, "username", sub.ServerKey, "error", err)
		}
	}
}

// RevokeSubscription removes and recreates the upstream user so the
// panel rotates its subscription URL and drops the old grants.
func (m *Manager) RevokeSubscription(ctx context.Context, nodes []*node.Node, sub *subscription.Subscription) {
	for _, n := range nodes {
		client, err := nodeclient.New(n)
		if err != nil {
			continue
		}
		if err := client.RemoveUser(ctx, n.AccessToken(), sub.ServerKey); err != nil && !nodeclient.IsNotFound(err) {
			m.logger.Warnw("failed to remove user for revoke",
				"node", n.Remark, "username", sub.ServerKey, "error", err)
			continue
		}
		configs, ok := m.ConfigsFor(ctx, n)
		if !ok {
			continue
		}
		if err := client.CreateUser(ctx, n.AccessToken(), createPayload(sub, n, configs)); err != nil {
			m.logger.Warnw("failed to recreate user after revoke",
				"node", n.Remark, "username", sub.ServerKey, "error", err)
		}
	}
}
