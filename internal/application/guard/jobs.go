package guard

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// allNodes lists every non-removed node, disabled ones included, so the
// caches stay warm for nodes that are only temporarily out of rotation.
func allNodes(ctx context.Context, repo node.Repository) ([]*node.Node, error) {
	nodes, _, err := repo.List(ctx, node.ListFilter{})
	return nodes, err
}

// ConfigsJob refreshes every node's config inventory cache. A node that
// cannot answer is cached as empty so downstream consumers treat it as
// unavailable instead of serving stale grants.
type ConfigsJob struct {
	manager *Manager
	logger  logger.Interface
}

func NewConfigsJob(manager *Manager, log logger.Interface) *ConfigsJob {
	return &ConfigsJob{manager: manager, logger: log}
}

func (j *ConfigsJob) Execute(ctx context.Context) (int, error) {
	nodes, err := allNodes(ctx, j.manager.nodes)
	if err != nil {
		return 0, fmt.Errorf("list nodes: %w", err)
	}

	refreshed := 0
	for _, n := range nodes {
		configs, err := j.manager.FetchConfigs(ctx, n)
		if err != nil {
			j.logger.Warnw("failed to refresh configs", "node", n.Remark, "error", err)
			j.manager.configs.Set(n.ID, nil)
			continue
		}
		j.manager.configs.Set(n.ID, configs)
		refreshed++
	}
	return refreshed, nil
}

// LinksJob keeps each node's reserved guard user in place and refreshes
// the raw share links the bundle generator rewrites per subscription.
type LinksJob struct {
	manager *Manager
	logger  logger.Interface
	http    *http.Client
}

func NewLinksJob(manager *Manager, log logger.Interface) *LinksJob {
	return &LinksJob{
		manager: manager,
		logger:  log,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (j *LinksJob) Execute(ctx context.Context) (int, error) {
	nodes, err := allNodes(ctx, j.manager.nodes)
	if err != nil {
		return 0, fmt.Errorf("list nodes: %w", err)
	}

	refreshed := 0
	for _, n := range nodes {
		links, err := j.nodeLinks(ctx, n)
		if err != nil {
			j.logger.Warnw("failed to refresh links", "node", n.Remark, "error", err)
			j.manager.links.Set(n.ID, nil)
			continue
		}
		j.manager.links.Set(n.ID, links)
		refreshed++
	}
	return refreshed, nil
}

func (j *LinksJob) nodeLinks(ctx context.Context, n *node.Node) ([]string, error) {
	configs, ok := j.manager.configs.Get(n.ID)
	if !ok || len(configs) == 0 {
		return nil, fmt.Errorf("no config inventory")
	}

	client, err := nodeclient.New(n)
	if err != nil {
		return nil, err
	}
	access := n.AccessToken()

	user, err := client.GetUser(ctx, access, GuardUsername)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if err := client.CreateUser(ctx, access, j.guardCreatePayload(n, configs)); err != nil {
			return nil, fmt.Errorf("create guard user: %w", err)
		}
		if user, err = client.GetUser(ctx, access, GuardUsername); err != nil || user == nil {
			return nil, fmt.Errorf("guard user missing after create: %w", err)
		}
	} else if payload := guardPayload(n.Category, configs, user); payload != nil {
		if err := client.ModifyUser(ctx, access, GuardUsername, payload); err != nil {
			return nil, fmt.Errorf("update guard user: %w", err)
		}
		if user, err = client.GetUser(ctx, access, GuardUsername); err != nil || user == nil {
			return nil, fmt.Errorf("guard user missing after update: %w", err)
		}
	}

	if n.Category == node.CategoryMarzban {
		links := make([]string, 0, len(user.Links))
		for _, link := range user.Links {
			if link = strings.TrimSpace(link); link != "" {
				links = append(links, link)
			}
		}
		return links, nil
	}
	return j.fetchSubscriptionLinks(ctx, n, user.SubscriptionURL)
}

func (j *LinksJob) guardCreatePayload(n *node.Node, configs []nodeclient.Config) map[string]any {
	data := buildExpire(n.Category)
	data["username"] = GuardUsername
	data["data_limit"] = 0
	for k, v := range guardPayload(n.Category, configs, nil) {
		data[k] = v
	}
	if n.Category == node.CategoryMarzneshin || n.Category == node.CategoryRustneshin {
		data["key"] = keys.NewAccessKey()
	}
	return data
}

// fetchSubscriptionLinks pulls the guard user's v2ray subscription
// document. Panels usually answer base64; plain text is tolerated.
func (j *LinksJob) fetchSubscriptionLinks(ctx context.Context, n *node.Node, subscriptionURL string) ([]string, error) {
	if subscriptionURL == "" {
		return nil, fmt.Errorf("guard user has no subscription url")
	}
	url := subscriptionURL + "/v2ray"
	if !strings.HasPrefix(url, "http") {
		url = strings.TrimRight(n.Host, "/") + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscription fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(body))
	if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
		text = string(decoded)
	}

	var links []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}
	return links, nil
}

// AccessJob refreshes stale panel bearer tokens.
type AccessJob struct {
	manager *Manager
	logger  logger.Interface
}

func NewAccessJob(manager *Manager, log logger.Interface) *AccessJob {
	return &AccessJob{manager: manager, logger: log}
}

func (j *AccessJob) Execute(ctx context.Context) (int, error) {
	nodes, err := j.manager.nodes.ListNeedingAccess(ctx)
	if err != nil {
		return 0, fmt.Errorf("list nodes needing access: %w", err)
	}

	updated := 0
	for _, n := range nodes {
		token, err := j.manager.Register(ctx, n)
		if err != nil {
			j.logger.Warnw("failed to refresh access token", "node", n.Remark, "error", err)
			continue
		}
		if err := j.manager.nodes.UpsertAccess(ctx, n.ID, token, biztime.NowUTC()); err != nil {
			j.logger.Errorw("failed to store access token", "node", n.Remark, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}
