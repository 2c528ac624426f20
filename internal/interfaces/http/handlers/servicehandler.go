package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moguard-inc/moguard/internal/domain/service"
	"github.com/moguard-inc/moguard/internal/shared/logger"
	"github.com/moguard-inc/moguard/internal/shared/utils"
)

type ServiceHandler struct {
	services service.Repository
	logger   logger.Interface
}

func NewServiceHandler(services service.Repository, log logger.Interface) *ServiceHandler {
	return &ServiceHandler{services: services, logger: log}
}

type serviceRequest struct {
	Remark  string `json:"remark" binding:"required,max=128"`
	NodeIDs []uint `json:"node_ids"`
}

func (h *ServiceHandler) Create(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s := &service.Service{Remark: req.Remark}
	if err := h.services.Create(c.Request.Context(), s); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if len(req.NodeIDs) > 0 {
		if err := h.services.SetNodes(c.Request.Context(), s, req.NodeIDs); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}
	utils.CreatedResponse(c, s)
}

func (h *ServiceHandler) List(c *gin.Context) {
	p := utils.ParsePagination(c)
	services, total, err := h.services.List(c.Request.Context(), p.Page, p.PageSize)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.ListSuccessResponse(c, services, total, p.Page, p.PageSize)
}

func (h *ServiceHandler) Get(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", s)
}

func (h *ServiceHandler) Update(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}

	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s.Remark = req.Remark
	if err := h.services.Update(c.Request.Context(), s); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if req.NodeIDs != nil {
		if err := h.services.SetNodes(c.Request.Context(), s, req.NodeIDs); err != nil {
			utils.ErrorResponseWithError(c, err)
			return
		}
	}
	utils.SuccessResponse(c, http.StatusOK, "", s)
}

func (h *ServiceHandler) Delete(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}

	count, err := h.services.UserCount(c.Request.Context(), s.ID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	if count > 0 {
		utils.ErrorResponse(c, http.StatusConflict, "service is still selected by subscriptions")
		return
	}

	if err := h.services.Delete(c.Request.Context(), s.ID); err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.NoContentResponse(c)
}

func (h *ServiceHandler) UserCount(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	count, err := h.services.UserCount(c.Request.Context(), s.ID)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", gin.H{"count": count})
}

func (h *ServiceHandler) load(c *gin.Context) (*service.Service, bool) {
	id, err := utils.ParseIDParam(c, "id", "service")
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	s, err := h.services.GetByID(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponseWithError(c, err)
		return nil, false
	}
	if s == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "service not found")
		return nil, false
	}
	return s, true
}
