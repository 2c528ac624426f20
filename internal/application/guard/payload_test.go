package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/shared/keys"
)

var marzbanConfigs = []nodeclient.Config{
	{Tag: "VLESS_TCP", Protocol: "vless"},
	{Tag: "VLESS_WS", Protocol: "vless"},
	{Tag: "TROJAN_TCP", Protocol: "trojan"},
}

var serviceConfigs = []nodeclient.Config{
	{ID: 3, Name: "basic"},
	{ID: 7, Name: "premium"},
}

func testSubscription() *subscription.Subscription {
	return &subscription.Subscription{
		AccessKey: "0123456789abcdef0123456789abcdef",
		ServerKey: "cafe0123",
	}
}

func TestBuildExpire(t *testing.T) {
	assert.Equal(t, map[string]any{"status": "active", "expire": 0}, buildExpire(node.CategoryMarzban))
	assert.Equal(t, map[string]any{"expire_strategy": "never"}, buildExpire(node.CategoryMarzneshin))
	assert.Equal(t, map[string]any{"expire_strategy": "never"}, buildExpire(node.CategoryRustneshin))
}

func TestProxySettings(t *testing.T) {
	assert.Equal(t, map[string]any{"id": "u"}, proxySettings("u", "p", "vmess"))
	assert.Equal(t, map[string]any{"flow": "", "id": "u"}, proxySettings("u", "p", "vless"))
	assert.Equal(t, map[string]any{"password": "p"}, proxySettings("u", "p", "trojan"))
	assert.Equal(t,
		map[string]any{"password": "p", "method": "chacha20-ietf-poly1305"},
		proxySettings("u", "p", "shadowsocks"))
	assert.Empty(t, proxySettings("u", "p", "wireguard"))
}

func TestCreatePayloadMarzban(t *testing.T) {
	sub := testSubscription()
	n := &node.Node{Category: node.CategoryMarzban}

	payload := createPayload(sub, n, marzbanConfigs)

	assert.Equal(t, sub.ServerKey, payload["username"])
	assert.Equal(t, 0, payload["data_limit"])
	assert.Equal(t, "active", payload["status"])
	assert.NotContains(t, payload, "key")

	inbounds, ok := payload["inbounds"].(map[string][]string)
	require.True(t, ok)
	assert.Equal(t, []string{"VLESS_TCP", "VLESS_WS"}, inbounds["vless"])
	assert.Equal(t, []string{"TROJAN_TCP"}, inbounds["trojan"])

	proxies, ok := payload["proxies"].(map[string]map[string]any)
	require.True(t, ok)
	assert.Equal(t, keys.DeriveUUID(sub.AccessKey), proxies["vless"]["id"])
	assert.Equal(t, keys.DerivePassword(sub.AccessKey), proxies["trojan"]["password"])
}

func TestCreatePayloadMarzneshin(t *testing.T) {
	sub := testSubscription()
	n := &node.Node{Category: node.CategoryMarzneshin}

	payload := createPayload(sub, n, serviceConfigs)

	assert.Equal(t, sub.ServerKey, payload["username"])
	assert.Equal(t, "never", payload["expire_strategy"])
	assert.Equal(t, sub.AccessKey, payload["key"])
	assert.Equal(t, []uint{3, 7}, payload["service_ids"])
}

func TestGuardPayloadSkipsMatchingState(t *testing.T) {
	proxies, inbounds := marzbanGrants(GuardUsername, marzbanConfigs)

	// only a full match skips the update
	assert.Nil(t, guardPayload(node.CategoryMarzban, marzbanConfigs, &nodeclient.User{
		Proxies:  proxies,
		Inbounds: inbounds,
	}))

	// stale inbounds behind matching proxies still get corrected
	payload := guardPayload(node.CategoryMarzban, marzbanConfigs, &nodeclient.User{
		Proxies:  proxies,
		Inbounds: map[string][]string{"vmess": {"VMESS_TCP"}},
	})
	require.NotNil(t, payload)
	assert.Equal(t, inbounds, payload["inbounds"])

	payload = guardPayload(node.CategoryMarzban, marzbanConfigs, &nodeclient.User{
		Proxies:  map[string]map[string]any{"vmess": {"id": "other"}},
		Inbounds: inbounds,
	})
	require.NotNil(t, payload)
	assert.Equal(t, proxies, payload["proxies"])
}

func TestGuardPayloadServices(t *testing.T) {
	assert.Nil(t, guardPayload(node.CategoryMarzneshin, serviceConfigs, &nodeclient.User{
		ServiceIDs: []uint{3, 7},
	}))

	payload := guardPayload(node.CategoryMarzneshin, serviceConfigs, &nodeclient.User{
		ServiceIDs: []uint{3},
	})
	require.NotNil(t, payload)
	assert.Equal(t, []uint{3, 7}, payload["service_ids"])
}

func TestSyncPayloadMarzbanKeepsExistingCredentials(t *testing.T) {
	sub := testSubscription()
	n := &node.Node{Category: node.CategoryMarzban}
	existing := map[string]any{"flow": "", "id": "keep-me"}

	payload := syncPayload(sub, n, marzbanConfigs, &nodeclient.User{
		Proxies:  map[string]map[string]any{"vless": existing},
		Inbounds: map[string][]string{"vless": {"VLESS_TCP"}},
	})
	require.NotNil(t, payload)

	proxies := payload["proxies"].(map[string]map[string]any)
	assert.Equal(t, existing, proxies["vless"])
	assert.Equal(t, keys.DerivePassword(sub.AccessKey), proxies["trojan"]["password"])
}

func TestSyncPayloadMarzbanChangedRegeneratesCredentials(t *testing.T) {
	sub := testSubscription()
	sub.Changed = true
	n := &node.Node{Category: node.CategoryMarzban}

	payload := syncPayload(sub, n, marzbanConfigs, &nodeclient.User{
		Proxies:  map[string]map[string]any{"vless": {"flow": "", "id": "stale"}},
		Inbounds: map[string][]string{"vless": {"VLESS_TCP"}},
	})
	require.NotNil(t, payload)

	proxies := payload["proxies"].(map[string]map[string]any)
	assert.Equal(t, keys.DeriveUUID(sub.AccessKey), proxies["vless"]["id"])
}

func TestSyncPayloadNoDrift(t *testing.T) {
	sub := testSubscription()

	proxies, inbounds := marzbanGrants(sub.AccessKey, marzbanConfigs)
	assert.Nil(t, syncPayload(sub, &node.Node{Category: node.CategoryMarzban}, marzbanConfigs, &nodeclient.User{
		Proxies:  proxies,
		Inbounds: inbounds,
	}))

	assert.Nil(t, syncPayload(sub, &node.Node{Category: node.CategoryRustneshin}, serviceConfigs, &nodeclient.User{
		ServiceIDs: []uint{3, 7},
	}))
}
