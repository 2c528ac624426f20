package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/application/links"
	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/config"
	"github.com/moguard-inc/moguard/internal/shared/format"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

func TestWantsPlain(t *testing.T) {
	assert.True(t, wantsPlain("Clash/1.11.0", ""))
	assert.True(t, wantsPlain("stash 2.0", ""))
	assert.True(t, wantsPlain("Mihomo Party", ""))
	assert.True(t, wantsPlain("v2rayNG/1.8.5", "true"))
	assert.False(t, wantsPlain("v2rayNG/1.8.5", ""))
	assert.False(t, wantsPlain("", ""))
}

func TestWriteHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	title := "{username} plan"
	username := "alice"
	owner := &admin.Admin{AccessTitle: &title}
	sub := &subscription.Subscription{
		Username:    &username,
		LimitUsage:  1000,
		TotalUsage:  250,
		LimitExpire: -86400,
		Owner:       owner,
	}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	h := &ClientHandler{logger: logger.NewNop()}
	h.writeHeaders(c, sub, biztime.NowUTC())

	wantTitle := "base64:" + base64.StdEncoding.EncodeToString([]byte("alice plan"))
	assert.Equal(t, wantTitle, rec.Header().Get("profile-title"))
	assert.Equal(t, "1", rec.Header().Get("profile-update-interval"))
	// Pending expiry is reported as unlimited to clients.
	assert.Equal(t, "upload=0; download=250; total=1000; expire=0",
		rec.Header().Get("subscription-userinfo"))
	assert.Empty(t, rec.Header().Get("announce"))
}

// clientSubs stubs the repository surface the client handler touches.
type clientSubs struct {
	subscription.Repository

	mu      sync.Mutex
	sub     *subscription.Subscription
	changed []bool
}

func (f *clientSubs) GetByAccessKey(ctx context.Context, accessKey string) (*subscription.Subscription, error) {
	if f.sub != nil && f.sub.AccessKey == accessKey {
		return f.sub, nil
	}
	return nil, nil
}

func (f *clientSubs) SetChanged(ctx context.Context, id uint, changed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, changed)
	return nil
}

func (f *clientSubs) SetLastRequest(ctx context.Context, id uint, agent string, at time.Time) (bool, error) {
	return false, nil
}

func (f *clientSubs) changedCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.changed...)
}

func newRotationFixture(t *testing.T, changed bool) (*ClientHandler, *clientSubs, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var reqs []string
	panel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	t.Cleanup(panel.Close)

	n := node.Node{ID: 4, Enabled: true, Category: node.CategoryMarzneshin, Host: panel.URL, Remark: "n4"}

	username := "alice"
	owner := &admin.Admin{
		ID:       1,
		Enabled:  true,
		Username: &username,
		Services: []service.Service{{ID: 2}},
	}
	sub := &subscription.Subscription{
		ID:        10,
		Username:  &username,
		AccessKey: "0123456789abcdef0123456789abcdef",
		ServerKey: "aaaa1111",
		Enabled:   true,
		Activated: true,
		Changed:   changed,
		Owner:     owner,
		Services:  []service.Service{{ID: 2, Nodes: []node.Node{n}}},
	}

	configCache := cache.NewConfigCache()
	configCache.Set(n.ID, []nodeclient.Config{{ID: 3}})

	repo := &clientSubs{sub: sub}
	h := NewClientHandler(
		repo,
		links.NewGenerator(cache.NewLinksCache(), logger.NewNop()),
		guard.NewManager(nil, configCache, cache.NewLinksCache(), logger.NewNop()),
		notification.NewService(config.NotificationConfig{}, logger.NewNop()),
		logger.NewNop(),
	)

	requests := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), reqs...)
	}
	return h, repo, requests
}

func fetchBundle(t *testing.T, h *ClientHandler, sub *subscription.Subscription) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/guards/"+sub.AccessKey, nil)
	c.Params = gin.Params{
		{Key: "tag", Value: "guards"},
		{Key: "key", Value: sub.AccessKey},
	}
	h.Fetch(c)
	return rec
}

func TestFetchRotatesCredentialsOnFirstPull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, repo, requests := newRotationFixture(t, false)

	rec := fetchBundle(t, h, repo.sub)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the flag flips once and the upstream user is recreated
	require.Eventually(t, func() bool {
		return len(requests()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"DELETE /api/users/aaaa1111",
		"POST /api/users",
	}, requests())
	assert.Equal(t, []bool{true}, repo.changedCalls())
}

func TestFetchSkipsRotationOncePulled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, repo, requests := newRotationFixture(t, true)

	rec := fetchBundle(t, h, repo.sub)
	assert.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, requests())
	assert.Empty(t, repo.changedCalls())
}

func TestWriteHeadersAnnounce(t *testing.T) {
	gin.SetMode(gin.TestMode)

	announce := "left: {left_usage}"
	supportURL := "https://t.me/support"
	prefix := "https://sub.example.com"
	owner := &admin.Admin{Announce: &announce, SupportURL: &supportURL, AccessPrefix: &prefix, UpdateInterval: 6}
	sub := &subscription.Subscription{AccessKey: "feedc0de", Owner: owner}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	h := &ClientHandler{logger: logger.NewNop()}
	h.writeHeaders(c, sub, biztime.NowUTC())

	assert.Equal(t, "6", rec.Header().Get("profile-update-interval"))
	assert.Equal(t, supportURL, rec.Header().Get("support-url"))
	assert.Equal(t, sub.Link(), rec.Header().Get("profile-web-page-url"))

	raw := rec.Header().Get("announce")
	assert.Contains(t, raw, "base64:")
	decoded, err := base64.StdEncoding.DecodeString(raw[len("base64:"):])
	assert.NoError(t, err)
	assert.Equal(t, "left: "+format.Unlimited, string(decoded))
}
