package common

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/swap-arbiter/internal/http/middleware"
	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// ErrInvalidUUID is returned when UUID parsing fails
var ErrInvalidUUID = errors.New("неверный формат UUID")

// CurrentAddress извлекает адрес вызывающего из контекста.
// При отсутствии отвечает 401 и возвращает false.
func CurrentAddress(c *gin.Context) (string, bool) {
	address := c.GetString(middleware.ContextAddressKey)
	if address == "" {
		response.Error(c, apperror.ErrUnauthorized)
		return "", false
	}
	return address, true
}

// ParseUUIDParam parses UUID from URL parameter
func ParseUUIDParam(c *gin.Context, paramName string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(c.Param(paramName))
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}
	return parsed, nil
}

// BindJSON читает тело запроса; при ошибке отвечает 400 и возвращает false.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "ошибка валидации запроса: "+err.Error())
		return false
	}
	return true
}

// ProofInput - доказательство в конверте {"kind","data"}.
type ProofInput struct {
	Kind models.EvidenceKind `json:"kind"`
	Data json.RawMessage     `json:"data"`
}

// Decode собирает доказательство. nil для пустого ввода.
func (p *ProofInput) Decode(maxBytes int64) (*models.Proof, error) {
	if p == nil || (p.Kind == "" && len(p.Data) == 0) {
		return nil, nil
	}
	proof, err := models.NewProof(p.Kind, p.Data, maxBytes)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	return proof, nil
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
