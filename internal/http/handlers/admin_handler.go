package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/swap-arbiter/internal/http/handlers/common"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// AdminHandler - привилегированные операции. Каждое действие проверяется сервисом по списку администраторов.
type AdminHandler struct {
	admin *service.AdminService
}

func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// ResolveRequest тело POST /admin/resolve.
type ResolveRequest struct {
	TaskID     uuid.UUID              `json:"task_id" binding:"required"`
	Resolution models.AdminResolution `json:"resolution" binding:"required"`
	Notes      string                 `json:"notes"`
}

// RegisterArbitratorRequest тело POST /admin/arbitrators.
type RegisterArbitratorRequest struct {
	Address string `json:"address" binding:"required"`
}

// Resolve POST /api/admin/resolve
func (h *AdminHandler) Resolve(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if !common.BindJSON(c, &req) {
		return
	}

	task, err := h.admin.ResolveTask(c.Request.Context(), address, req.TaskID, req.Resolution, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// RegisterArbitrator POST /api/admin/arbitrators
func (h *AdminHandler) RegisterArbitrator(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	var req RegisterArbitratorRequest
	if !common.BindJSON(c, &req) {
		return
	}

	if err := h.admin.RegisterArbitrator(c.Request.Context(), address, req.Address); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"address": models.NormalizeAddress(req.Address)})
}

// AuditLog GET /api/admin/audit?target_id=
func (h *AdminHandler) AuditLog(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	var target *uuid.UUID
	if raw := c.Query("target_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, common.ErrInvalidUUID.Error())
			return
		}
		target = &id
	}

	limit, offset := common.GetPagination(c)
	entries, err := h.admin.AuditLog(c.Request.Context(), address, target, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, entries, len(entries), limit, offset)
}
