package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

type marzneshinToken struct {
	AccessToken string `json:"access_token"`
	IsSudo      bool   `json:"is_sudo"`
	TokenType   string `json:"token_type"`
}

type marzneshinService struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type marzneshinUser struct {
	Username            string  `json:"username"`
	Key                 string  `json:"key"`
	IsActive            bool    `json:"is_active"`
	Enabled             bool    `json:"enabled"`
	UsedTraffic         int64   `json:"used_traffic"`
	LifetimeUsedTraffic int64   `json:"lifetime_used_traffic"`
	ServiceIDs          []uint  `json:"service_ids"`
	SubscriptionURL     string  `json:"subscription_url"`
	CreatedAt           apiTime `json:"created_at"`
}

func (u *marzneshinUser) toUser() *User {
	return &User{
		Username:            u.Username,
		Active:              u.IsActive,
		Enabled:             u.Enabled,
		LifetimeUsedTraffic: u.LifetimeUsedTraffic,
		CreatedAt:           u.CreatedAt.Time,
		ServiceIDs:          u.ServiceIDs,
		Key:                 u.Key,
		SubscriptionURL:     u.SubscriptionURL,
	}
}

type marzneshinClient struct {
	restClient
}

func newMarzneshinClient(host string) *marzneshinClient {
	return &marzneshinClient{newRESTClient(host)}
}

func (c *marzneshinClient) Category() node.Category {
	return node.CategoryMarzneshin
}

func (c *marzneshinClient) GenerateAccessToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"username":      {username},
		"password":      {password},
		"scope":         {""},
		"client_id":     {""},
		"client_secret": {""},
	}
	var token marzneshinToken
	if err := c.postForm(ctx, "/api/admins/token", form, &token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (c *marzneshinClient) GetConfigs(ctx context.Context, access string) ([]Config, error) {
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

func (c *marzneshinClient) GetUser(ctx context.Context, access, username string) (*User, error) {
	var user marzneshinUser
	if err := c.get(ctx, "/api/users/"+username, access, nil, &user); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user.toUser(), nil
}

func (c *marzneshinClient) ListUsers(ctx context.Context, access string, page, size int, usernames []string, active *bool) ([]User, error) {
	params := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	for _, u := range usernames {
		params.Add("username", u)
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

func (c *marzneshinClient) UsersCount(ctx context.Context, access string) (int, error) {
	var stats struct {
		Total int `json:"total"`
	}
	if err := c.get(ctx, "/api/system/stats/users", access, nil, &stats); err != nil {
		return 0, err
	}
	return stats.Total, nil
}

func (c *marzneshinClient) CreateUser(ctx context.Context, access string, data map[string]any) error {
	return c.post(ctx, "/api/users", access, data, nil)
}

func (c *marzneshinClient) ModifyUser(ctx context.Context, access, username string, data map[string]any) error {
	return c.put(ctx, "/api/users/"+username, access, data, nil)
}

func (c *marzneshinClient) RemoveUser(ctx context.Context, access, username string) error {
	return c.delete(ctx, "/api/users/"+username, access)
}

func (c *marzneshinClient) ActivateUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/enable", access, nil, nil)
}

func (c *marzneshinClient) DeactivateUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/disable", access, nil, nil)
}

func (c *marzneshinClient) ResetUser(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/reset", access, nil, nil)
}

func (c *marzneshinClient) RevokeSub(ctx context.Context, access, username string) error {
	return c.post(ctx, "/api/users/"+username+"/revoke_sub", access, nil, nil)
}

func (c *marzneshinClient) ParseUser(raw json.RawMessage) (*User, error) {
	var user marzneshinUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("nodeclient: parse marzneshin user: %w", err)
	}
	return user.toUser(), nil
}
