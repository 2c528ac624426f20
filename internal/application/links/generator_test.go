package links

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

func strptr(s string) *string { return &s }

func testGraph(nodes ...node.Node) *subscription.Subscription {
	owner := &admin.Admin{
		ID:       1,
		Enabled:  true,
		Username: strptr("owner"),
		Services: []service.Service{{ID: 5}},
	}
	return &subscription.Subscription{
		ID:        9,
		Username:  strptr("alice"),
		OwnerID:   1,
		AccessKey: "0123456789abcdef0123456789abcdef",
		ServerKey: "cafe0123",
		Enabled:   true,
		Activated: true,
		Owner:     owner,
		Services:  []service.Service{{ID: 5, Nodes: nodes}},
	}
}

func newTestGenerator(t *testing.T) (*Generator, *cache.LinksCache) {
	t.Helper()
	linksCache := cache.NewLinksCache()
	return NewGenerator(linksCache, logger.NewNop()), linksCache
}

func TestInterleaveRespectsBatchSizes(t *testing.T) {
	merged := interleave(
		[][]string{{"a1", "a2", "a3"}, {"b1", "b2"}},
		[]int{2, 1},
	)
	assert.Equal(t, []string{"a1", "a2", "b1", "a3", "b2"}, merged)
}

func TestBundleRewritesCredentials(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true, Remark: "de-1"}
	sub := testGraph(n)
	now := biztime.NowUTC()

	linksCache.Set(2, []string{
		"vless://old-uuid@host:443?security=tls#Germany",
		"trojan://old-pass@host:443#Germany",
	})

	bundle := g.Bundle(sub, now)
	require.Len(t, bundle, 2)
	assert.True(t, strings.HasPrefix(bundle[0], "vless://"+keys.DeriveUUID(sub.AccessKey)+"@host:443"))
	assert.True(t, strings.HasPrefix(bundle[1], "trojan://"+keys.DerivePassword(sub.AccessKey)+"@host:443"))
	assert.Contains(t, bundle[0], "#Germany")
}

func TestBundleRewritesVmess(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true}
	sub := testGraph(n)
	now := biztime.NowUTC()

	doc := map[string]any{"v": "2", "ps": "old remark", "add": "host", "id": "old-uuid"}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	linksCache.Set(2, []string{"vmess://" + base64.StdEncoding.EncodeToString(raw)})

	bundle := g.Bundle(sub, now)
	require.Len(t, bundle, 1)

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(bundle[0], "vmess://"))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(decoded, &out))
	assert.Equal(t, keys.DeriveUUID(sub.AccessKey), out["id"])
	assert.Equal(t, "old remark", out["ps"])
	assert.Equal(t, "host", out["add"])
}

func TestBundleRewritesShadowsocks(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true}
	sub := testGraph(n)

	userinfo := base64.RawURLEncoding.EncodeToString([]byte("chacha20-ietf-poly1305:old-pass"))
	linksCache.Set(2, []string{"ss://" + userinfo + "@host:8388#SS"})

	bundle := g.Bundle(sub, biztime.NowUTC())
	require.Len(t, bundle, 1)

	body := strings.TrimPrefix(bundle[0], "ss://")
	decoded, err := base64.RawURLEncoding.DecodeString(body[:strings.Index(body, "@")])
	require.NoError(t, err)
	assert.Equal(t, "chacha20-ietf-poly1305:"+keys.DerivePassword(sub.AccessKey), string(decoded))
}

func TestBundleConfigRename(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true, Remark: "de-1", UsageRate: 1.5}
	sub := testGraph(n)
	sub.Owner.ConfigRename = strptr("{server_id} {server_emoji} {server_name} {server_usage} [{username}]")

	linksCache.Set(2, []string{"vless://u@host:443#%F0%9F%87%A9%F0%9F%87%AA Germany"})

	bundle := g.Bundle(sub, biztime.NowUTC())
	require.Len(t, bundle, 1)
	_, frag, ok := strings.Cut(bundle[0], "#")
	require.True(t, ok)
	remark, err := decodeFragment(frag)
	require.NoError(t, err)
	// server_name and server_emoji derive from the link remark, not the
	// node row; the template must come back fully substituted.
	assert.Equal(t, "02 🇩🇪 Germany 1.5 [alice]", remark)
	assert.NotContains(t, remark, "{server_emoji}")
}

func TestBundleConfigRenameDefaultUsage(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 7, Enabled: true, ShowConfigs: true}
	sub := testGraph(n)
	sub.Owner.ConfigRename = strptr("{server_id} {server_name} {server_usage}")

	linksCache.Set(7, []string{"vless://u@host:443#Fast%20Node"})

	bundle := g.Bundle(sub, biztime.NowUTC())
	require.Len(t, bundle, 1)
	remark, err := decodeFragment(bundle[0][strings.Index(bundle[0], "#")+1:])
	require.NoError(t, err)
	assert.Equal(t, "07 Fast Node 1.0", remark)
}

func decodeFragment(frag string) (string, error) {
	return url.PathUnescape(frag)
}

func TestBundleInactiveOnlyPlaceholders(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true}
	sub := testGraph(n)
	sub.Enabled = false
	sub.Owner.Placeholders = []byte(`[{"remark":"Disabled {username}","categories":["disabled"]},{"remark":"Info","categories":["info"]}]`)

	linksCache.Set(2, []string{"vless://u@host:443#x"})

	bundle := g.Bundle(sub, biztime.NowUTC())
	require.Len(t, bundle, 2)
	for _, link := range bundle {
		assert.True(t, strings.HasPrefix(link, "vless://"+placeholderUUID+"@"))
	}
	remark, err := decodeFragment(bundle[0][strings.Index(bundle[0], "#")+1:])
	require.NoError(t, err)
	assert.Equal(t, "Info", remark)
}

func TestBundleOffsetAndMaxLinks(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true, OffsetLink: 1}
	sub := testGraph(n)
	sub.Owner.MaxLinks = 1

	linksCache.Set(2, []string{
		"vless://u@skip:443#skipped",
		"vless://u@keep:443#one",
		"vless://u@drop:443#two",
	})

	bundle := g.Bundle(sub, biztime.NowUTC())
	require.Len(t, bundle, 1)
	assert.Contains(t, bundle[0], "@keep:443")
}

func TestBundleMaxLinksSparesPlaceholders(t *testing.T) {
	g, linksCache := newTestGenerator(t)
	n := node.Node{ID: 2, Enabled: true, ShowConfigs: true}
	sub := testGraph(n)
	sub.Owner.MaxLinks = 1
	sub.Owner.Placeholders = []byte(`[{"remark":"First {username}","categories":["info"]},{"remark":"Second","categories":["info"]}]`)

	linksCache.Set(2, []string{
		"vless://u@one:443#one",
		"vless://u@two:443#two",
	})

	bundle := g.Bundle(sub, biztime.NowUTC())
	// the cap applies to node links only; both placeholders survive
	require.Len(t, bundle, 3)
	assert.True(t, strings.HasPrefix(bundle[0], "vless://"+placeholderUUID+"@"))
	assert.True(t, strings.HasPrefix(bundle[1], "vless://"+placeholderUUID+"@"))
	assert.Contains(t, bundle[2], "@one:443")
}

func TestExtractEmoji(t *testing.T) {
	assert.Equal(t, "🇩🇪", extractEmoji("🇩🇪 Germany 1"))
	assert.Equal(t, "⚡", extractEmoji("fast ⚡ node"))
	assert.Equal(t, "", extractEmoji("plain"))
}
