package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/swap-arbiter/internal/http/response"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// ErrorHandler отдаёт ошибки, добавленные через c.Error, если ответ ещё не записан,
// и превращает панику обработчика в 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.WithField("path", c.Request.URL.Path).Errorf("http: паника в обработчике: %v", r)
				if !c.Writer.Written() {
					response.Error(c, apperror.New(apperror.ErrCodeInternal, "", "внутренняя ошибка сервера"))
				}
			}
		}()

		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		response.Error(c, c.Errors.Last().Err)
	}
}
