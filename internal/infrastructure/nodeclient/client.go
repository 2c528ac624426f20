package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moguard-inc/moguard/internal/domain/node"
)

// Client is the per-dialect panel API. GetUser returns (nil, nil) when the
// upstream user does not exist; errors always mean the node itself could
// not answer.
type Client interface {
	Category() node.Category

	GenerateAccessToken(ctx context.Context, username, password string) (string, error)
	GetConfigs(ctx context.Context, access string) ([]Config, error)

	GetUser(ctx context.Context, access, username string) (*User, error)
	ListUsers(ctx context.Context, access string, page, size int, usernames []string, active *bool) ([]User, error)
	UsersCount(ctx context.Context, access string) (int, error)

	CreateUser(ctx context.Context, access string, data map[string]any) error
	ModifyUser(ctx context.Context, access, username string, data map[string]any) error
	RemoveUser(ctx context.Context, access, username string) error
	ActivateUser(ctx context.Context, access, username string) error
	DeactivateUser(ctx context.Context, access, username string) error
	ResetUser(ctx context.Context, access, username string) error
	RevokeSub(ctx context.Context, access, username string) error

	// ParseUser decodes one raw user document in this dialect. Scripted
	// inventories ship them verbatim from the node's own API.
	ParseUser(raw json.RawMessage) (*User, error)
}

// New builds the client matching the node's dialect.
func New(n *node.Node) (Client, error) {
	switch n.Category {
	case node.CategoryMarzban:
		return newMarzbanClient(n.Host), nil
	case node.CategoryMarzneshin:
		return newMarzneshinClient(n.Host), nil
	case node.CategoryRustneshin:
		return newRustneshinClient(n.Host), nil
	default:
		return nil, fmt.Errorf("nodeclient: unknown node category %q", n.Category)
	}
}
