package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/config"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// panelRecorder is an upstream panel stub that records every request it
// receives and answers 200 with an empty document.
type panelRecorder struct {
	mu   sync.Mutex
	reqs []string
}

func (p *panelRecorder) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.reqs = append(p.reqs, r.Method+" "+r.URL.Path)
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (p *panelRecorder) requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reqs...)
}

func newTestReconciler(configs *cache.ConfigCache) *Reconciler {
	manager := guard.NewManager(nil, configs, cache.NewLinksCache(), logger.NewNop())
	return &Reconciler{
		guard:    manager,
		notifier: notification.NewService(config.NotificationConfig{}, logger.NewNop()),
		logger:   logger.NewNop(),
	}
}

func activeSub(serverKey string, nodes ...node.Node) *subscription.Subscription {
	username := serverKey
	owner := &admin.Admin{
		ID:       1,
		Enabled:  true,
		Username: &username,
		Services: []service.Service{{ID: 5}},
	}
	sub := &subscription.Subscription{
		Username:  &username,
		AccessKey: "0123456789abcdef0123456789abcdef",
		ServerKey: serverKey,
		Enabled:   true,
		Activated: true,
		Owner:     owner,
	}
	if len(nodes) > 0 {
		sub.Services = []service.Service{{ID: 5, Nodes: nodes}}
	}
	return sub
}

func TestSyncDecisionTable(t *testing.T) {
	var enabled, disabled, dark panelRecorder
	s1 := (&enabled).serve(t)
	s2 := (&disabled).serve(t)
	s3 := (&dark).serve(t)

	n1 := node.Node{ID: 1, Enabled: true, Category: node.CategoryMarzneshin, Host: s1.URL, Remark: "n1"}
	n2 := node.Node{ID: 2, Enabled: false, Category: node.CategoryMarzneshin, Host: s2.URL, Remark: "n2"}
	n3 := node.Node{ID: 3, Enabled: true, Category: node.CategoryMarzneshin, Host: s3.URL, Remark: "n3"}

	configs := []nodeclient.Config{{ID: 3}, {ID: 7}}

	// synced projects everywhere; created only onto node 1; stray has no
	// node set left but still owns an upstream user.
	synced := activeSub("aaaa1111", n1, n2, n3)
	created := activeSub("bbbb2222", n1)
	stray := activeSub("cccc3333")

	snap := snapshot{
		1: {configs: configs, users: map[string]*nodeclient.User{
			"aaaa1111": {Username: "aaaa1111", Enabled: true, ServiceIDs: []uint{3, 7}},
			"cccc3333": {Username: "cccc3333", Enabled: true, ServiceIDs: []uint{3, 7}},
			"guard":    {Username: "guard", Enabled: true},
			"deadbeef": {Username: "deadbeef", Enabled: true},
		}},
		2: {configs: configs, users: map[string]*nodeclient.User{
			"aaaa1111": {Username: "aaaa1111", Enabled: true, ServiceIDs: []uint{3, 7}},
		}},
		// node 3 answered nothing this cycle and must not be touched
	}

	r := newTestReconciler(cache.NewConfigCache())
	subs := []*subscription.Subscription{synced, created, stray}
	nodes := []*node.Node{&n1, &n2, &n3}
	r.sync(context.Background(), subs, nodes, snap, biztime.NowUTC())

	got := enabled.requests()
	assert.ElementsMatch(t, []string{
		"POST /api/users",                    // created is missing upstream
		"POST /api/users/cccc3333/disable",   // stray is out of scope
		"DELETE /api/users/deadbeef",         // orphan collection
	}, got)

	// the disabled node still deactivates its users but creates nothing
	assert.Equal(t, []string{"POST /api/users/aaaa1111/disable"}, disabled.requests())

	// a node absent from the snapshot is left completely alone
	assert.Empty(t, dark.requests())
}

func TestSnapshotSkipsNodesWithoutConfigs(t *testing.T) {
	var panel panelRecorder
	srv := (&panel).serve(t)

	n := node.Node{ID: 7, Enabled: true, Category: node.CategoryMarzneshin, Host: srv.URL, Remark: "n7"}

	configs := cache.NewConfigCache()
	configs.Set(7, nil) // refresh failed, cached as known-empty
	r := newTestReconciler(configs)

	snap := r.fetchSnapshot(context.Background(), []*node.Node{&n})
	assert.Empty(t, snap)
	assert.Empty(t, panel.requests(), "no user fetch without a config inventory")

	// a transient config failure must never disable upstream users
	sub := activeSub("abcd1234", n)
	sub.Enabled = false
	r.sync(context.Background(), []*subscription.Subscription{sub}, []*node.Node{&n}, snap, biztime.NowUTC())
	assert.Empty(t, panel.requests())
}

func TestStartSyncDropsOverlappingCycle(t *testing.T) {
	var panel panelRecorder
	srv := (&panel).serve(t)

	n := node.Node{ID: 1, Enabled: true, Category: node.CategoryMarzneshin, Host: srv.URL}
	sub := activeSub("aaaa1111", n)
	snap := snapshot{
		1: {configs: []nodeclient.Config{{ID: 3}}, users: map[string]*nodeclient.User{}},
	}

	r := newTestReconciler(cache.NewConfigCache())
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	r.startSync([]*subscription.Subscription{sub}, []*node.Node{&n}, snap, biztime.NowUTC())
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, panel.requests(), "contending cycle must be dropped, not queued")
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
