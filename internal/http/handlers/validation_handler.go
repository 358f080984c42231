package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/swap-arbiter/internal/http/handlers/common"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// ValidationHandler обслуживает задачи валидации и голоса валидаторов.
type ValidationHandler struct {
	tasks  *service.ValidationService
	ledger *service.LedgerService
}

func NewValidationHandler(tasks *service.ValidationService, ledger *service.LedgerService) *ValidationHandler {
	return &ValidationHandler{tasks: tasks, ledger: ledger}
}

// VoteRequest тело POST /validations/:id/vote.
type VoteRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
	Notes    string          `json:"notes"`
}

// ListPending GET /api/validations?address=
// Без address список строится для вызывающего: его собственные сделки исключаются.
func (h *ValidationHandler) ListPending(c *gin.Context) {
	caller := c.Query("address")
	if caller == "" {
		var ok bool
		if caller, ok = common.CurrentAddress(c); !ok {
			return
		}
	}

	limit, offset := common.GetPagination(c)
	tasks, err := h.tasks.ListPending(c.Request.Context(), caller, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, tasks, len(tasks), limit, offset)
}

// GetTask GET /api/validations/:id
func (h *ValidationHandler) GetTask(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Vote POST /api/validations/:id/vote
func (h *ValidationHandler) Vote(c *gin.Context) {
	address, ok := common.CurrentAddress(c)
	if !ok {
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var req VoteRequest
	if !common.BindJSON(c, &req) {
		return
	}

	summary, err := h.tasks.Vote(c.Request.Context(), id, address, req.Decision, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

// GetProfile GET /api/validators/:address
func (h *ValidationHandler) GetProfile(c *gin.Context) {
	profile, err := h.ledger.Profile(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, profile)
}

// Leaderboard GET /api/validators
func (h *ValidationHandler) Leaderboard(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	profiles, err := h.ledger.Leaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, profiles, len(profiles), limit, offset)
}
