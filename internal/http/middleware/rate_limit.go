package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// RateLimitMiddleware ограничивает число запросов. Ключ - адрес вызывающего, без авторизации - IP.
// По умолчанию: 30 запросов в минуту.
func RateLimitMiddleware(limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 30
	}
	if period <= 0 {
		period = time.Minute
	}

	instance := limiter.New(memory.NewStore(), limiter.Rate{
		Period: period,
		Limit:  limit,
	})

	return func(c *gin.Context) {
		key := c.GetString(ContextAddressKey)
		if key == "" {
			key = c.ClientIP()
		}

		lctx, err := instance.Get(c, key)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			_ = c.Error(apperror.New(apperror.ErrCodeRateLimited, apperror.ReasonRateLimited, "слишком много запросов, попробуйте позже"))
			c.Abort()
			return
		}

		c.Next()
	}
}
