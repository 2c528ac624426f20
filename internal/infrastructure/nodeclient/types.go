// Package nodeclient talks to the upstream proxy panels. Each supported
// dialect gets its own client behind the Client interface; callers work
// with the dialect-neutral Config and User views.
package nodeclient

import (
	"strings"
	"time"
)

// Config is one selectable upstream unit: an inbound on a marzban node or
// a service on a marzneshin/rustneshin node.
type Config struct {
	ID       uint   `json:"id,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Name     string `json:"name,omitempty"`
}

// User is the dialect-neutral view of an upstream panel user. Proxies and
// Inbounds are only populated for marzban nodes, ServiceIDs and Key only
// for marzneshin/rustneshin nodes.
type User struct {
	Username            string
	Active              bool
	Enabled             bool
	LifetimeUsedTraffic int64
	CreatedAt           time.Time

	Proxies  map[string]map[string]any
	Inbounds map[string][]string

	ServiceIDs []uint
	Key        string

	SubscriptionURL string
	Links           []string
}

// apiTime tolerates the timestamp formats the panels actually emit:
// RFC 3339 with or without zone, with or without fractional seconds.
type apiTime struct {
	time.Time
}

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var err error
	for _, layout := range apiTimeLayouts {
		var parsed time.Time
		if parsed, err = time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return err
}
