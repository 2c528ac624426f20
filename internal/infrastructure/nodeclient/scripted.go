package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

// Scripted inventory dumps are large, so this client gets a longer
// timeout than the regular panel calls.
var scriptedHTTPClient = &http.Client{
	Transport: sharedTransport,
	Timeout:   60 * time.Second,
}

// FetchScriptedUsers pulls the full user inventory from the node's
// sidecar script endpoint and decodes each entry in the node's own
// dialect.
func FetchScriptedUsers(ctx context.Context, n *node.Node, c Client) ([]User, error) {
	if !n.IsScripted() {
		return nil, fmt.Errorf("nodeclient: node %d has no script endpoint", n.ID)
	}

	u := strings.TrimRight(*n.ScriptURL, "/") + "/api/users"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", *n.ScriptSecret)

	resp, err := scriptedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: scripted inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("nodeclient: scripted inventory: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Users []json.RawMessage `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("nodeclient: scripted inventory: decode: %w", err)
	}

	users := make([]User, 0, len(payload.Users))
	for _, raw := range payload.Users {
		user, err := c.ParseUser(raw)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, nil
}
