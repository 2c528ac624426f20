// Package links renders client-facing share link bundles: owner
// placeholder templates first, then every cached node link rewritten to
// carry the subscription's derived credentials and display remark.
package links

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/domain/subscription"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/shared/format"
	"github.com/moguard-inc/moguard/internal/shared/keys"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

const (
	placeholderAddress = "127.0.0.1"
	placeholderPort    = 1080
	placeholderUUID    = "00000000-0000-0000-0000-000000000000"
)

type Generator struct {
	links  *cache.LinksCache
	logger logger.Interface
}

func NewGenerator(links *cache.LinksCache, log logger.Interface) *Generator {
	return &Generator{links: links, logger: log}
}

// Bundle renders the full link list for one subscription. Placeholders
// always lead; node configs follow only while the subscription is
// active, interleaved across nodes by their batch sizes.
func (g *Generator) Bundle(sub *subscription.Subscription, now time.Time) []string {
	out := g.placeholders(sub, now)
	if !sub.IsActive(now) {
		return out
	}

	nodes := presentableNodes(sub)
	perNode := make([][]string, 0, len(nodes))
	batches := make([]int, 0, len(nodes))
	for _, n := range nodes {
		raw, ok := g.links.Get(n.ID)
		if !ok || len(raw) == 0 {
			continue
		}
		if n.OffsetLink > 0 {
			if n.OffsetLink >= len(raw) {
				continue
			}
			raw = raw[n.OffsetLink:]
		}

		rewritten := make([]string, 0, len(raw))
		for _, link := range raw {
			out, err := g.rewrite(link, sub, n, now)
			if err != nil {
				g.logger.Warnw("skipping unparsable link", "node", n.Remark, "error", err)
				continue
			}
			rewritten = append(rewritten, out)
		}
		if sub.Owner != nil && sub.Owner.ShuffleLinks {
			rand.Shuffle(len(rewritten), func(i, j int) {
				rewritten[i], rewritten[j] = rewritten[j], rewritten[i]
			})
		}
		perNode = append(perNode, rewritten)
		batches = append(batches, n.Batch())
	}

	// max_links caps only the node links; placeholders are always kept.
	merged := interleave(perNode, batches)
	if sub.Owner != nil && sub.Owner.MaxLinks > 0 && len(merged) > sub.Owner.MaxLinks {
		merged = merged[:sub.Owner.MaxLinks]
	}
	return append(out, merged...)
}

// presentableNodes filters the effective node set down to nodes that
// show configs, highest priority first.
func presentableNodes(sub *subscription.Subscription) []*node.Node {
	var nodes []*node.Node
	for _, n := range sub.Nodes() {
		if n.Availabled() && n.ShowConfigs {
			nodes = append(nodes, n)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Priority != nodes[j].Priority {
			return nodes[i].Priority > nodes[j].Priority
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// interleave merges the per-node lists round-robin, taking each node's
// batch size per turn, so a client walking the list top-down alternates
// between nodes instead of exhausting one first.
func interleave(perNode [][]string, batches []int) []string {
	total := 0
	for _, links := range perNode {
		total += len(links)
	}
	out := make([]string, 0, total)
	offsets := make([]int, len(perNode))
	for len(out) < total {
		for i, links := range perNode {
			take := batches[i]
			for ; take > 0 && offsets[i] < len(links); take-- {
				out = append(out, links[offsets[i]])
				offsets[i]++
			}
		}
	}
	return out
}

// placeholders renders the owner's synthetic templates as vless links.
func (g *Generator) placeholders(sub *subscription.Subscription, now time.Time) []string {
	places := sub.Placeholders(now)
	if len(places) == 0 {
		return nil
	}
	vars := sub.FormatMap(now)
	out := make([]string, 0, len(places))
	for _, p := range places {
		address := p.Address
		if address == "" {
			address = placeholderAddress
		}
		port := p.Port
		if port == 0 {
			port = placeholderPort
		}
		id := p.UUID
		if id == "" {
			id = placeholderUUID
		}
		remark := format.CollapseSpaces(format.Render(p.Remark, vars))
		out = append(out, fmt.Sprintf("vless://%s@%s:%d?type=tcp&security=none#%s",
			id, address, port, url.PathEscape(remark)))
	}
	return out
}

// rewrite stamps one raw node link with the subscription's credentials
// and, when the owner configured renaming, a templated remark.
func (g *Generator) rewrite(link string, sub *subscription.Subscription, n *node.Node, now time.Time) (string, error) {
	scheme, rest, ok := strings.Cut(link, "://")
	if !ok {
		return "", fmt.Errorf("link without scheme: %q", link)
	}

	uuid := keys.DeriveUUID(sub.AccessKey)
	password := keys.DerivePassword(sub.AccessKey)

	if scheme == "vmess" {
		return g.rewriteVmess(rest, sub, n, uuid, now)
	}

	remark := currentRemark(rest)
	newRemark := g.renameRemark(remark, sub, n, now)

	switch scheme {
	case "vless":
		rest = replaceUserInfo(rest, uuid)
	case "trojan":
		rest = replaceUserInfo(rest, password)
	case "ss":
		var err error
		if rest, err = rewriteShadowsocksUserInfo(rest, password); err != nil {
			return "", err
		}
	}

	return scheme + "://" + replaceRemark(rest, newRemark), nil
}

// renameRemark applies the owner's config_rename template, keeping the
// original remark when no template is set. server_emoji and server_name
// both come from the link's own remark: the emoji characters, and the
// remark with those characters stripped.
func (g *Generator) renameRemark(remark string, sub *subscription.Subscription, n *node.Node, now time.Time) string {
	if sub.Owner == nil || sub.Owner.ConfigRename == nil || *sub.Owner.ConfigRename == "" {
		return remark
	}

	emoji := extractEmoji(remark)
	name := remark
	if emoji != "" {
		name = strings.TrimSpace(strings.Replace(remark, emoji, "", 1))
	}
	usage := "1.0"
	if n.UsageRate > 0 {
		usage = strconv.FormatFloat(n.UsageRate, 'f', -1, 64)
	}

	vars := sub.FormatMap(now)
	vars["server_id"] = fmt.Sprintf("%02d", n.ID)
	vars["server_emoji"] = emoji
	vars["server_name"] = name
	vars["server_usage"] = usage
	return format.CollapseSpaces(format.Render(*sub.Owner.ConfigRename, vars))
}

// currentRemark returns the decoded fragment of a link body.
func currentRemark(rest string) string {
	_, frag, ok := strings.Cut(rest, "#")
	if !ok {
		return ""
	}
	if decoded, err := url.PathUnescape(frag); err == nil {
		return decoded
	}
	return frag
}

func replaceRemark(rest, remark string) string {
	body, _, _ := strings.Cut(rest, "#")
	return body + "#" + url.PathEscape(remark)
}

// replaceUserInfo swaps the credential part before the first "@".
func replaceUserInfo(rest, credential string) string {
	at := strings.Index(rest, "@")
	if at < 0 {
		return rest
	}
	return credential + rest[at:]
}

// rewriteShadowsocksUserInfo re-encodes the base64 "method:password"
// userinfo with the derived password, keeping the advertised method.
func rewriteShadowsocksUserInfo(rest, password string) (string, error) {
	at := strings.Index(rest, "@")
	if at < 0 {
		return "", fmt.Errorf("shadowsocks link without userinfo")
	}
	decoded, err := decodeBase64Loose(rest[:at])
	if err != nil {
		return "", fmt.Errorf("shadowsocks userinfo: %w", err)
	}
	method, _, ok := strings.Cut(decoded, ":")
	if !ok {
		return "", fmt.Errorf("shadowsocks userinfo without method")
	}
	userinfo := base64.RawURLEncoding.EncodeToString([]byte(method + ":" + password))
	return userinfo + rest[at:], nil
}

// rewriteVmess decodes the base64 JSON body, stamps the credential id
// and remark, and re-encodes.
func (g *Generator) rewriteVmess(rest string, sub *subscription.Subscription, n *node.Node, uuid string, now time.Time) (string, error) {
	decoded, err := decodeBase64Loose(rest)
	if err != nil {
		return "", fmt.Errorf("vmess body: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return "", fmt.Errorf("vmess json: %w", err)
	}

	remark, _ := doc["ps"].(string)
	doc["id"] = uuid
	doc["ps"] = g.renameRemark(remark, sub, n, now)

	body, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(body), nil
}

// decodeBase64Loose tolerates the padding and alphabet variants seen in
// the wild.
func decodeBase64Loose(s string) (string, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("not base64: %q", s)
}

// emoji rune ranges worth carrying over from upstream remarks; flags are
// regional indicator pairs.
var emojiRanges = [][2]rune{
	{0x1F1E6, 0x1F1FF},
	{0x1F300, 0x1F5FF},
	{0x1F600, 0x1F64F},
	{0x1F680, 0x1F6FF},
	{0x1F900, 0x1F9FF},
	{0x2600, 0x27BF},
}

// extractEmoji returns the emoji characters found in a remark.
func extractEmoji(s string) string {
	var b strings.Builder
	for _, r := range s {
		for _, rng := range emojiRanges {
			if r >= rng[0] && r <= rng[1] {
				b.WriteRune(r)
				break
			}
		}
	}
	return b.String()
}
