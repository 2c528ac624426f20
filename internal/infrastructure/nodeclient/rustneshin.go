package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

// rustneshin reuses the marzneshin API shape with two quirks: the token
// grant takes only username and password, and the username filter on the
// list endpoint is a JSON-encoded array instead of a repeated parameter.
type rustneshinClient struct {
	restClient
}

func newRustneshinClient(host string) *rustneshinClient {
	return &rustneshinClient{newRESTClient(host)}
}

func (c *rustneshinClient) Category() node.Category {
	return node.CategoryRustneshin
}

func (c *rustneshinClient) GenerateAccessToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	var token marzneshinToken
	if err := c.postForm(ctx, "/api/admins/token", form, &token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (c *rustneshinClient) GetConfigs(ctx context.Context, access string) ([]Config, error) {
	var payload struct {
		Items []marzneshinService `json:"items"`
	}
	if err := c.get(ctx, "/api/services", access, nil, &payload); err != nil {
		return nil, err
	}
	configs := make([]Config, 0, len(payload.Items))
	for _, svc := range payload.Items {
		configs = append(configs, Config{ID: svc.ID, Name: svc.Name})
	}
	return configs, nil
}

func (c *rustneshinClient) GetUser(ctx context.Context, access, username string) (*User, error) {
	var user marzneshinUser
	if err := c.get(ctx, "/api/users/"+username, access, nil, &user); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user.toUser(), nil
}

func (c *rustneshinClient) ListUsers(ctx context.Context, access string, page, size int, usernames []string, active *bool) ([]User, error) {
	params := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	if len(usernames) > 0 {
		encoded, err := json.Marshal(usernames)
		if err != nil {
			return nil, fmt.Errorf("nodeclient: encode username filter: %w", err)
		}
		params.Set("username", string(encoded))
	}
	if active != nil {
		params.Set("enabled", strconv.FormatBool(*active))
	}
	var payload struct {
		Items []marzneshinUser `json:"items"`
	}
	if err := c.get(ctx, "/api/users", access, params, &payload); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(payload.Items))
	for i := range payload.Items {
		users = append(users, *payload.Items[i].toUser())
	}
	return users, nil
}

func (c *rustneshinClient) UsersCount(ctx context.Context, access string) (int, error) {
	var stats struct {
		Total int `json:"total"`
	}
	if err := c.get(ctx, "/api/system/stats/users", access, nil, &stats); err != nil {
		return 0, err
	}
	return stats.Total, nil
}

func (c *rustneshinClient) CreateUser(ctx context.Context, access string, data map[string]any) error {
	return c.post(ctx, "/api/users", access, data, nil)
}

func (c *rustneshinClient) ModifyUser(ctx context.Context, access, username string, data map[string]any) error {
	return c.put(ctx, "/api/users/"+username, access, data, nil)
}

func (c *rustneshinClient) RemoveUser(ctx context.Context, access, username string) error {
	return c.delete(ctx, "/api/users/"+username, access)
}

func (c *rustneshinClient) ActivateUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/enable", access, nil, nil)
}

func (c *rustneshinClient) DeactivateUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/disable", access, nil, nil)
}

func (c *rustneshinClient) ResetUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/reset", access, nil, nil)
}

func (c *rustneshinClient) RevokeSub(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/revoke_sub", access, nil, nil)
}

func (c *rustneshinClient) ParseUser(raw json.RawMessage) (*User, error) {
	var user marzneshinUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("nodeclient: parse rustneshin user: %w", err)
	}
	return user.toUser(), nil
}
