// Package routes wires the HTTP surface: middleware, the admin API, and
// the client-facing subscription endpoint.
package routes

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/interfaces/http/handlers"
	"github.com/moguard-inc/moguard/internal/interfaces/http/middleware"
	"github.com/moguard-inc/moguard/internal/shared/config"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *handlers.AuthHandler
	Admins        *handlers.AdminHandler
	Nodes         *handlers.NodeHandler
	Services      *handlers.ServiceHandler
	Subscriptions *handlers.SubscriptionHandler
	Client        *handlers.ClientHandler
}

func Setup(cfg *config.ServerConfig, auth *middleware.AuthMiddleware, h *Handlers, log logger.Interface) *gin.Engine {
	gin.SetMode(ginMode(cfg.Mode))

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.CORS(cfg.AllowedOrigins))

	// Client-facing bundle endpoint, keyed by owner tag + access key.
	// The tag segment would collide with the static /api tree, so the
	// client routes resolve through the fallback handler instead.
	engine.NoRoute(clientDispatch(h.Client))

	api := engine.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/token", h.Auth.Login)

		session := authGroup.Group("", auth.RequireAuth())
		{
			session.GET("/me", h.Auth.Me)
			session.POST("/totp", h.Auth.EnrollTOTP)
			session.POST("/totp/confirm", h.Auth.ConfirmTOTP)
			session.DELETE("/totp", h.Auth.RevokeTOTP)
		}
	}

	authed := api.Group("", auth.RequireAuth())

	owner := authed.Group("", auth.RequireOwner())
	{
		admins := owner.Group("/admins")
		{
			admins.POST("", h.Admins.Create)
			admins.GET("", h.Admins.List)
			admins.GET("/stats", h.Admins.Stats)
			admins.GET("/:id", h.Admins.Get)
			admins.PUT("/:id", h.Admins.Update)
			admins.DELETE("/:id", h.Admins.Delete)
			admins.POST("/:id/api-key", h.Admins.RotateAPIKey)
		}

		nodes := owner.Group("/nodes")
		{
			nodes.POST("", h.Nodes.Create)
			nodes.GET("", h.Nodes.List)
			nodes.GET("/stats", h.Nodes.Stats)
			nodes.GET("/:id", h.Nodes.Get)
			nodes.PUT("/:id", h.Nodes.Update)
			nodes.PUT("/:id/enabled", h.Nodes.SetEnabled)
			nodes.DELETE("/:id", h.Nodes.Delete)
			nodes.GET("/:id/configs", h.Nodes.Configs)
		}

		services := owner.Group("/services")
		{
			services.POST("", h.Services.Create)
			services.GET("", h.Services.List)
			services.GET("/:id", h.Services.Get)
			services.PUT("/:id", h.Services.Update)
			services.DELETE("/:id", h.Services.Delete)
			services.GET("/:id/users", h.Services.UserCount)
		}
	}

	subs := authed.Group("/subscriptions")
	{
		subs.GET("", h.Subscriptions.List)
		subs.GET("/:username", h.Subscriptions.Get)
		subs.GET("/:username/usages", h.Subscriptions.ListUsages)

		// Mutations are blocked for non-owner admins over quota.
		quota := subs.Group("", auth.RequireQuota())
		{
			quota.POST("", h.Subscriptions.Create)
			quota.PUT("/:username", h.Subscriptions.Update)

			quota.POST("/enable", h.Subscriptions.BulkEnable)
			quota.POST("/disable", h.Subscriptions.BulkDisable)
			quota.POST("/reset", h.Subscriptions.BulkReset)
			quota.POST("/revoke", h.Subscriptions.BulkRevoke)
			quota.POST("/remove", h.Subscriptions.BulkRemove)
			quota.POST("/services/:service_id", h.Subscriptions.BulkAttachService)
			quota.DELETE("/services/:service_id", h.Subscriptions.BulkDetachService)
		}
	}

	renewals := authed.Group("/renewals")
	{
		renewals.GET("/:username", h.Subscriptions.ListAutoRenewals)

		quota := renewals.Group("", auth.RequireQuota())
		{
			quota.POST("/:username", h.Subscriptions.AddAutoRenewal)
			quota.DELETE("/:username/:renewal_id", h.Subscriptions.DeleteAutoRenewal)
		}
	}

	authed.GET("/stats/subscriptions", h.Subscriptions.Stats)

	return engine
}

var accessTagPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,30}$`)

// clientDispatch resolves GET /{tag}/{secret} and /{tag}/{secret}/info.
func clientDispatch(client *handlers.ClientHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusNotFound)
			return
		}
		tag, key, info, ok := matchClientPath(c.Request.URL.Path)
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Params = append(c.Params,
			gin.Param{Key: "tag", Value: tag},
			gin.Param{Key: "key", Value: key})
		if info {
			client.Info(c)
			return
		}
		client.Fetch(c)
	}
}

func matchClientPath(path string) (tag, key string, info, ok bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segments) {
	case 2:
	case 3:
		if segments[2] != "info" {
			return "", "", false, false
		}
		info = true
	default:
		return "", "", false, false
	}
	if !accessTagPattern.MatchString(segments[0]) || segments[1] == "" {
		return "", "", false, false
	}
	return segments[0], segments[1], info, true
}

func ginMode(mode string) string {
	switch mode {
	case "release", "production", "prod":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
