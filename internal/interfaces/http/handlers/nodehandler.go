package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/application/guard"
	"github.com/moguard-inc/moguard/internal/domain/node"
	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type NodeHandler struct {
	nodes  node.Repository
	guard  *guard.Manager
	logger logger.Interface
}

func NewNodeHandler(nodes node.Repository, guardManager *guard.Manager, log logger.Interface) *NodeHandler {
	return &NodeHandler{
		nodes:  nodes,
		guard:  guardManager,
		logger: log,
	}
}

type createNodeRequest struct {
	Remark   string `json:"remark" binding:"required,max=128"`
	Category string `json:"category" binding:"required,oneof=marzban marzneshin rustneshin"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Host     string `json:"host" binding:"required,url"`

	UsageRate   float64 `json:"usage_rate"`
	OffsetLink  int     `json:"offset_link"`
	BatchSize   int     `json:"batch_size"`
	Priority    int     `json:"priority"`
	RateDisplay string  `json:"rate_display"`
	ShowConfigs *bool   `json:"show_configs"`

	ScriptURL    *string `json:"script_url"`
	ScriptSecret *string `json:"script_secret"`
}

// Create registers the node against its panel before persisting, so a
// node with bad credentials never enters the pool.
func (h *NodeHandler) Create(c *gin.Context) {
	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	n := &node.Node{
		Enabled:      true,
		Remark:       req.Remark,
		Category:     node.Category(req.Category),
		Username:     req.Username,
		Password:     req.Password,
		Host:         req.Host,
		UsageRate:    req.UsageRate,
		OffsetLink:   req.OffsetLink,
		BatchSize:    req.BatchSize,
		Priority:     req.Priority,
		RateDisplay:  req.RateDisplay,
		ShowConfigs:  true,
		ScriptURL:    req.ScriptURL,
		ScriptSecret: req.ScriptSecret,
	}
	if req.ShowConfigs != nil {
		n.ShowConfigs = *req.ShowConfigs
	}

	token, err := h.guard.Register(c.Request.Context(), n)
	if err != nil {
		h.logger.Warnw("node registration failed", "remark", n.Remark, "error", err)
		utils.ErrorResponse(c, http.StatusBadGateway, "failed to authenticate against the panel")
		return
	}
	now := biztime.NowUTC()
	n.Access = &token
	n.AccessUpdatedAt = &now

	if err := h.nodes.Create(c.Request.Context(), n); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}

	if configs, err := h.guard.FetchConfigs(c.Request.Context(), n); err == nil {
		h.guard.ConfigCache().Set(n.ID, configs)
	}

	utils.CreatedResponse(c, n)
}

func (h *NodeHandler) List(c *gin.Context) {
	p := utils.ParsePagination(c)
	filter := node.ListFilter{Page: p.Page, Size: p.PageSize}
	if raw, ok := c.GetQuery("enabled"); ok {
		enabled := raw == "true"
		filter.Availabled = &enabled
	}

	nodes, total, err := h.nodes.List(c.Request.Context(), filter)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.ListSuccessResponse(c, nodes, total, p.Page, p.PageSize)
}

func (h *NodeHandler) Get(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", n)
}

type updateNodeRequest struct {
	Remark   *string `json:"remark"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Host     *string `json:"host"`

	UsageRate   *float64 `json:"usage_rate"`
	OffsetLink  *int     `json:"offset_link"`
	BatchSize   *int     `json:"batch_size"`
	Priority    *int     `json:"priority"`
	RateDisplay *string  `json:"rate_display"`
	ShowConfigs *bool    `json:"show_configs"`

	ScriptURL    *string `json:"script_url"`
	ScriptSecret *string `json:"script_secret"`
}

func (h *NodeHandler) Update(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}

	var req updateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	reauth := false
	if req.Remark != nil {
		n.Remark = *req.Remark
	}
	if req.Username != nil {
		n.Username = *req.Username
		reauth = true
	}
	if req.Password != nil {
		n.Password = *req.Password
		reauth = true
	}
	if req.Host != nil {
		n.Host = *req.Host
		reauth = true
	}
	if req.UsageRate != nil {
		n.UsageRate = *req.UsageRate
	}
	if req.OffsetLink != nil {
		n.OffsetLink = *req.OffsetLink
	}
	if req.BatchSize != nil {
		n.BatchSize = *req.BatchSize
	}
	if req.Priority != nil {
		n.Priority = *req.Priority
	}
	if req.RateDisplay != nil {
		n.RateDisplay = *req.RateDisplay
	}
	if req.ShowConfigs != nil {
		n.ShowConfigs = *req.ShowConfigs
	}
	if req.ScriptURL != nil {
		n.ScriptURL = req.ScriptURL
	}
	if req.ScriptSecret != nil {
		n.ScriptSecret = req.ScriptSecret
	}

	if reauth {
		token, err := h.guard.Register(c.Request.Context(), n)
		if err != nil {
			h.logger.Warnw("node re-registration failed", "remark", n.Remark, "error", err)
			utils.ErrorResponse(c, http.StatusBadGateway, "failed to authenticate against the panel")
			return
		}
		now := biztime.NowUTC()
		n.Access = &token
		n.AccessUpdatedAt = &now
	}

	if err := h.nodes.Update(c.Request.Context(), n); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", n)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *NodeHandler) SetEnabled(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}

	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.nodes.SetEnabled(c.Request.Context(), n.ID, *req.Enabled); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if !*req.Enabled {
		h.guard.ConfigCache().Remove(n.ID)
		h.guard.LinksCache().Remove(n.ID)
	}
	utils.SuccessResponse(c, http.StatusOK, "", nil)
}

func (h *NodeHandler) Delete(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.nodes.Remove(c.Request.Context(), n.ID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	h.guard.ConfigCache().Remove(n.ID)
	h.guard.LinksCache().Remove(n.ID)
	utils.NoContentResponse(c)
}

func (h *NodeHandler) Stats(c *gin.Context) {
	stats, err := h.nodes.Stats(c.Request.Context())
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", stats)
}

// Configs returns the cached config inventory for selection UIs.
func (h *NodeHandler) Configs(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}
	configs, ok := h.guard.ConfigsFor(c.Request.Context(), n)
	if !ok {
		utils.ErrorResponse(c, http.StatusBadGateway, "node configs unavailable")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", configs)
}

func (h *NodeHandler) load(c *gin.Context) (*node.Node, bool) {
	id, err := utils.ParseIDParam(c, "id", "node")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	n, err := h.nodes.GetByID(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	if n == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "node not found")
		return nil, false
	}
	return n, true
}
