package nodeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestMarzbanGenerateAccessToken(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admin/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "admin", r.PostForm.Get("username"))
		assert.Equal(t, "secret", r.PostForm.Get("password"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "token_type": "bearer"})
	})

	c := newMarzbanClient(srv.URL)
	token, err := c.GenerateAccessToken(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestMarzbanGetConfigsFlattens(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inbounds", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"vless": []map[string]string{
				{"tag": "VLESS_TCP", "protocol": "vless"},
				{"tag": "VLESS_WS", "protocol": "vless"},
			},
			"trojan": []map[string]string{
				{"tag": "TROJAN", "protocol": "trojan"},
			},
		})
	})

	c := newMarzbanClient(srv.URL)
	configs, err := c.GetConfigs(context.Background(), "tok")
	require.NoError(t, err)
	assert.Len(t, configs, 3)

	tags := make(map[string]string)
	for _, cfg := range configs {
		tags[cfg.Tag] = cfg.Protocol
	}
	assert.Equal(t, "vless", tags["VLESS_WS"])
	assert.Equal(t, "trojan", tags["TROJAN"])
}

func TestMarzbanListUsersParams(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("offset"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, []string{"a", "b"}, q["username"])
		assert.Equal(t, "active", q.Get("status"))
		json.NewEncoder(w).Encode(map[string]any{"users": []map[string]any{
			{"username": "a", "status": "active", "lifetime_used_traffic": 42, "created_at": "2025-01-02T03:04:05"},
			{"username": "b", "status": "on_hold", "created_at": "2025-01-02T03:04:05Z"},
		}})
	})

	c := newMarzbanClient(srv.URL)
	active := true
	users, err := c.ListUsers(context.Background(), "tok", 2, 100, []string{"a", "b"}, &active)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, int64(42), users[0].LifetimeUsedTraffic)
	assert.True(t, users[0].Active)
	assert.True(t, users[1].Active, "on_hold counts as active")
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), users[0].CreatedAt)
}

func TestMarzbanGetUserNotFound(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	c := newMarzbanClient(srv.URL)
	user, err := c.GetUser(context.Background(), "tok", "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestMarzneshinListUsersParams(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "50", q.Get("size"))
		assert.Equal(t, []string{"a", "b"}, q["username"])
		assert.Equal(t, "false", q.Get("enabled"))
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"username": "a", "is_active": false, "enabled": false,
				"service_ids": []int{3, 5}, "key": "k", "created_at": "2025-01-02T03:04:05"},
		}})
	})

	c := newMarzneshinClient(srv.URL)
	active := false
	users, err := c.ListUsers(context.Background(), "tok", 1, 50, []string{"a", "b"}, &active)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []uint{3, 5}, users[0].ServiceIDs)
	assert.Equal(t, "k", users[0].Key)
}

func TestRustneshinUsernameFilterIsJSON(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["a","b"]`, r.URL.Query().Get("username"))
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	})

	c := newRustneshinClient(srv.URL)
	_, err := c.ListUsers(context.Background(), "tok", 1, 100, []string{"a", "b"}, nil)
	require.NoError(t, err)
}

func TestRustneshinTokenFormOmitsOAuthFields(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admins/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "admin", r.PostForm.Get("username"))
		assert.False(t, r.PostForm.Has("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "is_sudo": true})
	})

	c := newRustneshinClient(srv.URL)
	token, err := c.GenerateAccessToken(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestUsersCountPerDialect(t *testing.T) {
	marzban := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int{"total_user": 7})
	})
	marzneshin := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/system/stats/users", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int{"total": 9})
	})

	n, err := newMarzbanClient(marzban.URL).UsersCount(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = newMarzneshinClient(marzneshin.URL).UsersCount(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestNewMatchesCategory(t *testing.T) {
	for _, category := range []node.Category{
		node.CategoryMarzban, node.CategoryMarzneshin, node.CategoryRustneshin,
	} {
		c, err := New(&node.Node{Category: category, Host: "https://panel.example.com"})
		require.NoError(t, err)
		assert.Equal(t, category, c.Category())
	}

	_, err := New(&node.Node{Category: "xray"})
	assert.Error(t, err)
}

func TestFetchScriptedUsers(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users", r.URL.Path)
		assert.Equal(t, "s3cr3t", r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(map[string]any{"users": []map[string]any{
			{"username": "a", "status": "active", "lifetime_used_traffic": 10, "created_at": "2025-01-02T03:04:05"},
			{"username": "b", "status": "disabled", "created_at": "2025-01-02T03:04:05"},
		}})
	})

	scriptURL := srv.URL
	secret := "s3cr3t"
	n := &node.Node{
		ID:           1,
		Category:     node.CategoryMarzban,
		Host:         srv.URL,
		ScriptURL:    &scriptURL,
		ScriptSecret: &secret,
	}
	c, err := New(n)
	require.NoError(t, err)

	users, err := FetchScriptedUsers(context.Background(), n, c)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.True(t, users[0].Active)
	assert.False(t, users[1].Enabled)
}
