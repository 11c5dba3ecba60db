package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shintairiku/cohere-rag/internal/pkg/errcode"
	"github.com/shintairiku/cohere-rag/internal/pkg/response"
	"github.com/shintairiku/cohere-rag/internal/service"
)

type TenantHandler struct {
	tenants *service.TenantService
}

func NewTenantHandler(tenants *service.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

type tenantRequest struct {
	Name      string `json:"name"`
	FolderRef string `json:"folder_ref"`
	AutoSync  *bool  `json:"auto_sync"`
}

func (h *TenantHandler) Create(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	autoSync := req.AutoSync != nil && *req.AutoSync
	tenant, err := h.tenants.Create(c.Request.Context(), req.Name, req.FolderRef, autoSync)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tenant)
}

func (h *TenantHandler) List(c *gin.Context) {
	tenants, err := h.tenants.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tenants)
}

func (h *TenantHandler) Get(c *gin.Context) {
	tenant, err := h.tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tenant)
}

func (h *TenantHandler) Update(c *gin.Context) {
	var req tenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	tenant, err := h.tenants.Update(c.Request.Context(), c.Param("id"), req.Name, req.FolderRef, req.AutoSync)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tenant)
}

func (h *TenantHandler) Delete(c *gin.Context) {
	if err := h.tenants.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *TenantHandler) ListBackups(c *gin.Context) {
	backups, err := h.tenants.ListBackups(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, backups)
}

type restoreRequest struct {
	Version int64 `json:"version"`
}

func (h *TenantHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Version <= 0 {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "version required")
		return
	}
	if err := h.tenants.Restore(c.Request.Context(), c.Param("id"), req.Version); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
