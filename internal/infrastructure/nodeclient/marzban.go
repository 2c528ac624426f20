package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

// marzban user status values.
const (
	marzbanStatusActive   = "active"
	marzbanStatusDisabled = "disabled"
	marzbanStatusOnHold   = "on_hold"
)

type marzbanToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type marzbanInbound struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
}

type marzbanUser struct {
	Username            string                    `json:"username"`
	Proxies             map[string]map[string]any `json:"proxies"`
	Inbounds            map[string][]string       `json:"inbounds"`
	Status              string                    `json:"status"`
	UsedTraffic         int64                     `json:"used_traffic"`
	LifetimeUsedTraffic int64                     `json:"lifetime_used_traffic"`
	SubscriptionURL     string                    `json:"subscription_url"`
	Links               []string                  `json:"links"`
	CreatedAt           apiTime                   `json:"created_at"`
}

func (u *marzbanUser) toUser() *User {
	return &User{
		Username:            u.Username,
		Active:              u.Status == marzbanStatusActive || u.Status == marzbanStatusOnHold,
		Enabled:             u.Status != marzbanStatusDisabled,
		LifetimeUsedTraffic: u.LifetimeUsedTraffic,
		CreatedAt:           u.CreatedAt.Time,
		Proxies:             u.Proxies,
		Inbounds:            u.Inbounds,
		SubscriptionURL:     u.SubscriptionURL,
		Links:               u.Links,
	}
}

type marzbanClient struct {
	restClient
}

func newMarzbanClient(host string) *marzbanClient {
	return &marzbanClient{newRESTClient(host)}
}

func (c *marzbanClient) Category() node.Category {
	return node.CategoryMarzban
}

func (c *marzbanClient) GenerateAccessToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"username":      {username},
		"password":      {password},
		"scope":         {""},
		"client_id":     {""},
		"client_secret": {""},
	}
	var token marzbanToken
	if err := c.postForm(ctx, "/api/admin/token", form, &token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// GetConfigs flattens the protocol-keyed inbound map into one config per
// inbound tag.
func (c *marzbanClient) GetConfigs(ctx context.Context, access string) ([]Config, error) {
	var inbounds map[string][]marzbanInbound
	if err := c.get(ctx, "/api/inbounds", access, nil, &inbounds); err != nil {
		return nil, err
	}
	var configs []Config
	for _, list := range inbounds {
		for _, inbound := range list {
			configs = append(configs, Config{
				Tag:      inbound.Tag,
				Protocol: inbound.Protocol,
				Name:     inbound.Tag,
			})
		}
	}
	return configs, nil
}

func (c *marzbanClient) GetUser(ctx context.Context, access, username string) (*User, error) {
	var user marzbanUser
	if err := c.get(ctx, "/api/user/"+username, access, nil, &user); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user.toUser(), nil
}

func (c *marzbanClient) ListUsers(ctx context.Context, access string, page, size int, usernames []string, active *bool) ([]User, error) {
	params := url.Values{
		"offset": {strconv.Itoa((page - 1) * size)},
		"limit":  {strconv.Itoa(size)},
	}
	for _, u := range usernames {
		params.Add("username", u)
	}
	if active != nil {
		if *active {
			params.Set("status", marzbanStatusActive)
		} else {
			params.Set("status", marzbanStatusDisabled)
		}
	}
	var payload struct {
		Users []marzbanUser `json:"users"`
	}
	if err := c.get(ctx, "/api/users", access, params, &payload); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(payload.Users))
	for i := range payload.Users {
		users = append(users, *payload.Users[i].toUser())
	}
	return users, nil
}

func (c *marzbanClient) UsersCount(ctx context.Context, access string) (int, error) {
	var system struct {
		TotalUser int `json:"total_user"`
	}
	if err := c.get(ctx, "/api/system", access, nil, &system); err != nil {
		return 0, err
	}
	return system.TotalUser, nil
}

func (c *marzbanClient) CreateUser(ctx context.Context, access string, data map[string]any) error {
	return c.post(ctx, "/api/user", access, data, nil)
}

func (c *marzbanClient) ModifyUser(ctx context.Context, access, username string, data map[string]any) error {
	return c.put(ctx, "/api/user/"+username, access, data, nil)
}

func (c *marzbanClient) RemoveUser(ctx context.Context, access, username string) error {
	return c.delete(ctx, "/api/user/"+username, access)
}

func (c *marzbanClient) ActivateUser(ctx context.Context, access, username string) error {
	return c.put(ctx, "/api/user/"+username, access, map[string]any{"status": marzbanStatusActive}, nil)
}

func (c *marzbanClient) DeactivateUser(ctx context.Context, access, username string) error {
	return c.put(ctx, "/api/user/"+username, access, map[string]any{"status": marzbanStatusDisabled}, nil)
}

func (c *marzbanClient) ResetUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/user/"+username+"/reset", access, nil, nil)
}

func (c *marzbanClient) RevokeSub(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/user/"+username+"/revoke_sub", access, nil, nil)
}

func (c *marzbanClient) ParseUser(raw json.RawMessage) (*User, error) {
	var user marzbanUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("nodeclient: parse marzban user: %w", err)
	}
	return user.toUser(), nil
}
