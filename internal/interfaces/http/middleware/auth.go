package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/infrastructure/auth"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/shared/constants"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type AuthMiddleware struct {
	jwtService *auth.JWTService
	admins     admin.Repository
	cache      *cache.AdminCache
	logger     logger.Interface
}

func NewAuthMiddleware(jwtService *auth.JWTService, admins admin.Repository, adminCache *cache.AdminCache, log logger.Interface) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		admins:     admins,
		cache:      adminCache,
		logger:     log,
	}
}

// RequireAuth authenticates with either a Bearer token or an API key.
// Bearer tokens minted before the admin's last password reset or TOTP
// revocation are rejected.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var a *admin.Admin

		if apiKey := c.GetHeader(constants.HeaderAPIKey); apiKey != "" {
			a = m.byAPIKey(c.Request.Context(), apiKey)
			if a == nil {
				utils.ErrorResponse(c, http.StatusUnauthorized, "invalid api key")
				c.Abort()
				return
			}
		} else {
			claims, ok := m.verifyBearer(c)
			if !ok {
				return
			}
			a = m.byID(c.Request.Context(), claims.AdminID)
			if a == nil {
				utils.ErrorResponse(c, http.StatusUnauthorized, "unknown admin")
				c.Abort()
				return
			}
			if claims.IssuedBefore(a.LastPasswordResetAt) || claims.IssuedBefore(a.LastTOTPRevokedAt) {
				utils.ErrorResponse(c, http.StatusUnauthorized, "token has been revoked")
				c.Abort()
				return
			}
		}

		if !a.Enabled || a.Removed {
			utils.ErrorResponse(c, http.StatusForbidden, "admin is disabled")
			c.Abort()
			return
		}

		c.Set(constants.ContextKeyAdmin, a)
		c.Set(constants.ContextKeyAdminID, a.ID)
		m.touchLastOnline(a.ID)

		c.Next()
	}
}

// RequireOwner allows only the owner role through.
func (m *AuthMiddleware) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := CurrentAdmin(c)
		if a == nil || !a.IsOwner() {
			utils.ErrorResponse(c, http.StatusForbidden, "owner role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireQuota blocks non-owner admins that exhausted their usage quota.
func (m *AuthMiddleware) RequireQuota() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := CurrentAdmin(c)
		if a != nil && !a.IsOwner() && a.ReachedUsageLimit() {
			utils.ErrorResponse(c, http.StatusForbidden, "usage quota exhausted")
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentAdmin returns the authenticated admin from the request context.
func CurrentAdmin(c *gin.Context) *admin.Admin {
	v, ok := c.Get(constants.ContextKeyAdmin)
	if !ok {
		return nil
	}
	a, _ := v.(*admin.Admin)
	return a
}

func (m *AuthMiddleware) verifyBearer(c *gin.Context) (*auth.Claims, bool) {
	authHeader := c.GetHeader(constants.HeaderAuthorization)
	if authHeader == "" {
		utils.ErrorResponse(c, http.StatusUnauthorized, "missing authorization token")
		c.Abort()
		return nil, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		utils.ErrorResponse(c, http.StatusUnauthorized, "invalid authorization header format")
		c.Abort()
		return nil, false
	}

	claims, err := m.jwtService.Verify(parts[1])
	if err != nil {
		m.logger.Warnw("failed to verify token", "error", err)
		utils.ErrorResponse(c, http.StatusUnauthorized, "invalid or expired token")
		c.Abort()
		return nil, false
	}
	return claims, true
}

func (m *AuthMiddleware) byAPIKey(ctx context.Context, apiKey string) *admin.Admin {
	if a := m.cache.GetByAPIKey(apiKey); a != nil {
		return a
	}
	a, err := m.admins.GetByAPIKey(ctx, apiKey)
	if err != nil || a == nil {
		return nil
	}
	m.cache.Update(a)
	return a
}

func (m *AuthMiddleware) byID(ctx context.Context, id uint) *admin.Admin {
	if a := m.cache.GetByID(id); a != nil {
		return a
	}
	a, err := m.admins.GetByID(ctx, id)
	if err != nil || a == nil {
		return nil
	}
	m.cache.Update(a)
	return a
}

func (m *AuthMiddleware) touchLastOnline(id uint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.admins.TouchLastOnline(ctx, id); err != nil {
			m.logger.Debugw("failed to touch last online", "admin_id", id, "error", err)
		}
	}()
}
