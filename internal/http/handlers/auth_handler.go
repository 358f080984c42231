package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/swap-arbiter/internal/http/handlers/common"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/service"
	"github.com/ignatzorin/swap-arbiter/internal/validation"
)

// AuthHandler выдаёт токены для локальной разработки.
// В production токены выпускает внешний сервис подписи кошелька.
type AuthHandler struct {
	tokens *service.TokenManager
	ttl    time.Duration
}

func NewAuthHandler(tokens *service.TokenManager, ttl time.Duration) *AuthHandler {
	return &AuthHandler{tokens: tokens, ttl: ttl}
}

type DevTokenRequest struct {
	Address string `json:"address" binding:"required"`
}

// DevToken POST /api/auth/dev-token
func (h *AuthHandler) DevToken(c *gin.Context) {
	var req DevTokenRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if err := validation.ValidateAddress("address", req.Address); err != nil {
		response.Error(c, err)
		return
	}

	token, err := h.tokens.Issue(req.Address, h.ttl)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"access_token": token,
		"expires_in":   int(h.ttl.Seconds()),
	})
}
