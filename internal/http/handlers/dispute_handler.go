package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/swap-arbiter/internal/http/handlers/common"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// Действия PATCH /disputes/:id.
const (
	DisputeActionVote         = "vote"
	DisputeActionEvidence     = "evidence"
	DisputeActionEscalate     = "escalate"
	DisputeActionAdminResolve = "admin_resolve"
)

type DisputeHandler struct {
	disputes *service.DisputeService
	admin    *service.AdminService
}

func NewDisputeHandler(disputes *service.DisputeService, admin *service.AdminService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, admin: admin}
}

// CreateDisputeRequest тело POST /disputes.
type CreateDisputeRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
	Reason  string    `json:"reason" binding:"required"`
}

// UpdateDisputeRequest тело PATCH /disputes/:id.
type UpdateDisputeRequest struct {
	Action         string `json:"action" binding:"required"`
	FavorRequester *bool  `json:"favor_requester,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
	ArtifactRef    string `json:"artifact_ref,omitempty"`
	Note           string `json:"note,omitempty"`
}

// CreateDispute POST /api/disputes
func (h *DisputeHandler) CreateDispute(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	var req CreateDisputeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	dispute, err := h.disputes.Create(c.Request.Context(), service.CreateDisputeInput{
		OrderID:  req.OrderID,
		RaisedBy: address,
		Reason:   req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// GetDispute GET /api/disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	dispute, err := h.disputes.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}

// ListMyDisputes GET /api/disputes
func (h *DisputeHandler) ListMyDisputes(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.disputes.ListForUser(c.Request.Context(), address, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, disputes, len(disputes), limit, offset)
}

// UpdateDispute PATCH /api/disputes/:id
func (h *DisputeHandler) UpdateDispute(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req UpdateDisputeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var dispute *models.Dispute

	switch req.Action {
	case DisputeActionVote:
		if req.FavorRequester == nil {
			response.BadRequest(c, "favor_requester обязателен")
			return
		}
		dispute, err = h.disputes.Vote(ctx, id, address, *req.FavorRequester, req.Reasoning)
	case DisputeActionEvidence:
		dispute, err = h.disputes.SubmitEvidence(ctx, id, address, req.ArtifactRef)
	case DisputeActionEscalate:
		dispute, err = h.disputes.Escalate(ctx, id, address)
	case DisputeActionAdminResolve:
		if req.FavorRequester == nil {
			response.BadRequest(c, "favor_requester обязателен")
			return
		}
		dispute, err = h.admin.ResolveDispute(ctx, address, id, *req.FavorRequester, req.Note)
	default:
		response.BadRequest(c, "неизвестное действие: "+req.Action)
		return
	}

	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dispute)
}
