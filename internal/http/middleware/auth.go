package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// ContextAddressKey ключ адреса вызывающего в gin.Context.
const ContextAddressKey = "address"

// AuthMiddleware проверяет JWT access токен и кладёт адрес аккаунта в контекст.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			response.Error(c, apperror.ErrUnauthorized)
			return
		}

		address, err := tokens.ParseAccess(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextAddressKey, address)
		c.Next()
	}
}

// OptionalAuth кладёт адрес в контекст, если передан токен. Без заголовка запрос
// проходит анонимно, невалидный токен отклоняется.
func OptionalAuth(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			response.Error(c, apperror.ErrUnauthorized)
			return
		}

		address, err := tokens.ParseAccess(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "токен невалиден")
			return
		}

		c.Set(ContextAddressKey, address)
		c.Next()
	}
}

// RequireAdmin пропускает только адреса из списка администраторов.
func RequireAdmin(isAdmin func(address string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.GetString(ContextAddressKey)
		if !isAdmin(address) {
			logger.Log.WithFields(logrus.Fields{
				"actor": address,
				"path":  c.Request.URL.Path,
			}).Warn("admin: отказ в доступе")
			response.Error(c, apperror.ErrNotAdmin)
			return
		}
		c.Next()
	}
}
