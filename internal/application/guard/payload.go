// Package guard projects subscriptions onto upstream nodes: payload
// construction for every dialect, the per-node operations, and the
// periodic refresh jobs for configs, links, and access tokens.
package guard

import (
	"reflect"
	"slices"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/nodeclient"
	"github.com/moguard-inc/moguard/internal/shared/keys"
)

// GuardUsername is the reserved upstream user each node carries so the
// links task can read raw share links without touching any real
// subscription. The reconciler's GC must never remove it.
const GuardUsername = "guard"

// buildExpire returns the dialect's never-expires fragment.
func buildExpire(category node.Category) map[string]any {
	switch category {
	case node.CategoryMarzban:
		return map[string]any{"status": "active", "expire": 0}
	default:
		return map[string]any{"expire_strategy": "never"}
	}
}

// proxySettings returns the per-protocol credential block derived from
// an access key.
func proxySettings(uuid, password, protocol string) map[string]any {
	switch protocol {
	case "vmess":
		return map[string]any{"id": uuid}
	case "vless":
		return map[string]any{"flow": "", "id": uuid}
	case "trojan":
		return map[string]any{"password": password}
	case "shadowsocks":
		return map[string]any{"password": password, "method": "chacha20-ietf-poly1305"}
	default:
		return map[string]any{}
	}
}

// marzbanGrants derives the proxies and inbounds maps for a marzban user
// from the node's inbound inventory.
func marzbanGrants(accessKey string, configs []nodeclient.Config) (map[string]map[string]any, map[string][]string) {
	uuid := keys.DeriveUUID(accessKey)
	password := keys.DerivePassword(accessKey)

	proxies := make(map[string]map[string]any)
	inbounds := make(map[string][]string)
	for _, cfg := range configs {
		proxies[cfg.Protocol] = proxySettings(uuid, password, cfg.Protocol)
		inbounds[cfg.Protocol] = append(inbounds[cfg.Protocol], cfg.Tag)
	}
	return proxies, inbounds
}

func serviceIDs(configs []nodeclient.Config) []uint {
	ids := make([]uint, 0, len(configs))
	for _, cfg := range configs {
		ids = append(ids, cfg.ID)
	}
	return ids
}

// applyConfigs writes the dialect's grant fragment into data.
func applyConfigs(data map[string]any, accessKey string, category node.Category, configs []nodeclient.Config) map[string]any {
	switch category {
	case node.CategoryMarzban:
		proxies, inbounds := marzbanGrants(accessKey, configs)
		data["proxies"] = proxies
		data["inbounds"] = inbounds
	default:
		data["service_ids"] = serviceIDs(configs)
	}
	return data
}

// createPayload builds the full create-user document for a subscription.
func createPayload(sub *subscription.Subscription, n *node.Node, configs []nodeclient.Config) map[string]any {
	data := buildExpire(n.Category)
	data["username"] = sub.ServerKey
	data["data_limit"] = 0
	data = applyConfigs(data, sub.AccessKey, n.Category, configs)
	if n.Category == node.CategoryMarzneshin || n.Category == node.CategoryRustneshin {
		data["key"] = sub.AccessKey
	}
	return data
}

// guardPayload builds the grant fragment for the reserved guard user.
// When the current upstream state is supplied and already carries the
// wanted grants, it returns nil to skip the update.
func guardPayload(category node.Category, configs []nodeclient.Config, current *nodeclient.User) map[string]any {
	data := map[string]any{}
	switch category {
	case node.CategoryMarzban:
		proxies, inbounds := marzbanGrants(GuardUsername, configs)
		data["proxies"] = proxies
		data["inbounds"] = inbounds
		if current != nil {
			if reflect.DeepEqual(current.Proxies, proxies) && reflect.DeepEqual(current.Inbounds, inbounds) {
				return nil
			}
		}
	default:
		ids := serviceIDs(configs)
		data["service_ids"] = ids
		if current != nil && slices.Equal(current.ServiceIDs, ids) {
			return nil
		}
	}
	return data
}

// syncPayload diffs the wanted grants against the upstream user and
// returns the update document, or nil when the node already matches.
// On marzban a subscription flagged as changed gets fresh credentials
// even for protocols the user already carries.
func syncPayload(sub *subscription.Subscription, n *node.Node, configs []nodeclient.Config, current *nodeclient.User) map[string]any {
	data := map[string]any{"username": sub.ServerKey}

	switch n.Category {
	case node.CategoryMarzban:
		uuid := keys.DeriveUUID(sub.AccessKey)
		password := keys.DerivePassword(sub.AccessKey)

		proxies := make(map[string]map[string]any)
		inbounds := make(map[string][]string)
		for _, cfg := range configs {
			if existing, ok := current.Proxies[cfg.Protocol]; ok && !sub.Changed {
				proxies[cfg.Protocol] = existing
			} else {
				proxies[cfg.Protocol] = proxySettings(uuid, password, cfg.Protocol)
			}
			inbounds[cfg.Protocol] = append(inbounds[cfg.Protocol], cfg.Tag)
		}
		if reflect.DeepEqual(inbounds, current.Inbounds) && reflect.DeepEqual(proxies, current.Proxies) {
			return nil
		}
		data["proxies"] = proxies
		data["inbounds"] = inbounds
	default:
		ids := serviceIDs(configs)
		if slices.Equal(current.ServiceIDs, ids) {
			return nil
		}
		data["service_ids"] = ids
	}
	return data
}
