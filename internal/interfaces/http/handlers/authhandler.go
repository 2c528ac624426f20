// Package handlers exposes the admin REST API and the client-facing
// subscription endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/domain/admin"
	"github.com/moguard-inc/moguard/internal/infrastructure/auth"
	"github.com/moguard-inc/moguard/internal/infrastructure/cache"
	"github.com/moguard-inc/moguard/internal/infrastructure/notification"
	"github.com/moguard-inc/moguard/internal/interfaces/http/middleware"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type AuthHandler struct {
	admins   admin.Repository
	cache    *cache.AdminCache
	jwt      *auth.JWTService
	hasher   *auth.BcryptPasswordHasher
	notifier *notification.Service
	logger   logger.Interface
}

func NewAuthHandler(admins admin.Repository, adminCache *cache.AdminCache, jwt *auth.JWTService, hasher *auth.BcryptPasswordHasher, notifier *notification.Service, log logger.Interface) *AuthHandler {
	return &AuthHandler{
		admins:   admins,
		cache:    adminCache,
		jwt:      jwt,
		hasher:   hasher,
		notifier: notifier,
		logger:   log,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login issues a bearer token for valid credentials. Failed attempts
// are reported to the operator channel without echoing the password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}

	a, err := h.admins.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if a == nil || !a.Enabled || a.Removed {
		h.failed(c, req.Username)
		return
	}
	if err := h.hasher.Verify(req.Password, a.HashedPassword); err != nil {
		h.failed(c, req.Username)
		return
	}
	if a.TOTPStatus && a.TOTPSecret != nil {
		if !auth.VerifyTOTP(*a.TOTPSecret, req.TOTPCode, biztime.NowUTC()) {
			h.failed(c, req.Username)
			return
		}
	}

	token, expiresIn, err := h.jwt.Generate(a.ID, a.UsernameOrEmpty())
	if err != nil {
		h.logger.Errorw("failed to generate token", "admin_id", a.ID, "error", err)
		utils.ErrorResponse(c, http.StatusInternalServerError, "failed to generate token")
		return
	}

	now := biztime.NowUTC()
	a.LastLoginAt = &now
	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		h.logger.Warnw("failed to record login time", "admin_id", a.ID, "error", err)
	}
	h.cache.Update(a)

	h.notifier.AdminLogin(a, c.ClientIP(), c.Request.UserAgent())
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

func (h *AuthHandler) failed(c *gin.Context, username string) {
	h.notifier.AdminFailedLogin(username, c.ClientIP(), c.Request.UserAgent())
	utils.ErrorResponse(c, http.StatusUnauthorized, "invalid credentials")
}

// Me returns the authenticated admin.
func (h *AuthHandler) Me(c *gin.Context) {
	a := middleware.CurrentAdmin(c)
	utils.SuccessResponse(c, http.StatusOK, "", a)
}

// EnrollTOTP stages a new TOTP secret; it becomes active once confirmed.
func (h *AuthHandler) EnrollTOTP(c *gin.Context) {
	a := middleware.CurrentAdmin(c)

	secret := auth.NewTOTPSecret()
	a.TOTPSecretPending = &secret
	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.cache.Update(a)

	utils.SuccessResponse(c, http.StatusOK, "", gin.H{
		"secret": secret,
		"uri":    auth.TOTPProvisioningURI("moguard", a.UsernameOrEmpty(), secret),
	})
}

type confirmTOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

// ConfirmTOTP activates the pending secret after one valid code.
func (h *AuthHandler) ConfirmTOTP(c *gin.Context) {
	a := middleware.CurrentAdmin(c)

	var req confirmTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}
	if a.TOTPSecretPending == nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "no pending totp enrollment")
		return
	}
	if !auth.VerifyTOTP(*a.TOTPSecretPending, req.Code, biztime.NowUTC()) {
		utils.ErrorResponse(c, http.StatusBadRequest, "invalid code")
		return
	}

	a.TOTPSecret = a.TOTPSecretPending
	a.TOTPSecretPending = nil
	a.TOTPStatus = true
	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.cache.Update(a)
	utils.SuccessResponse(c, http.StatusOK, "TOTP enabled", nil)
}

// RevokeTOTP disables TOTP and invalidates every outstanding token.
func (h *AuthHandler) RevokeTOTP(c *gin.Context) {
	a := middleware.CurrentAdmin(c)

	now := biztime.NowUTC()
	a.TOTPSecret = nil
	a.TOTPSecretPending = nil
	a.TOTPStatus = false
	a.LastTOTPRevokedAt = &now
	if err := h.admins.Update(c.Request.Context(), a); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.cache.Update(a)
	utils.SuccessResponse(c, http.StatusOK, "TOTP disabled", nil)
}
