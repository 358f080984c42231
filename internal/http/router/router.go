package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/swap-arbiter/internal/config"
	"github.com/ignatzorin/swap-arbiter/internal/http/handlers"
	"github.com/ignatzorin/swap-arbiter/internal/http/middleware"
	"github.com/ignatzorin/swap-arbiter/internal/metrics"
	"github.com/ignatzorin/swap-arbiter/internal/service"
)

// Handlers набор хэндлеров API.
type Handlers struct {
	Auth        *handlers.AuthHandler
	Orders      *handlers.OrderHandler
	Validations *handlers.ValidationHandler
	Disputes    *handlers.DisputeHandler
	Admin       *handlers.AdminHandler
	Health      *handlers.HealthHandler
	WS          *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, admin *service.AdminService) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.ErrorHandler())
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	if h.Auth != nil && cfg.Env == "development" {
		api.POST("/auth/dev-token", h.Auth.DevToken)
	}

	// Публичные маршруты
	api.GET("/ws", h.WS.Handle)
	viewer := middleware.OptionalAuth(tokenManager)
	api.GET("/orders", viewer, h.Orders.ListOrders)
	api.GET("/orders/:id", middleware.UUIDValidator("id"), viewer, h.Orders.GetOrder)
	api.GET("/validators", h.Validations.Leaderboard)
	api.GET("/validators/:address", h.Validations.GetProfile)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		writes := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

		protected.POST("/orders", writes, h.Orders.CreateOrder)
		protected.PATCH("/orders/:id", middleware.UUIDValidator("id"), writes, h.Orders.UpdateOrder)

		protected.GET("/validations", h.Validations.ListPending)
		protected.GET("/validations/:id", middleware.UUIDValidator("id"), h.Validations.GetTask)
		protected.POST("/validations/:id/vote", middleware.UUIDValidator("id"), writes, h.Validations.Vote)

		protected.POST("/disputes", writes, h.Disputes.CreateDispute)
		protected.GET("/disputes", h.Disputes.ListMyDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), h.Disputes.GetDispute)
		protected.PATCH("/disputes/:id", middleware.UUIDValidator("id"), writes, h.Disputes.UpdateDispute)
	}

	adminGroup := api.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(tokenManager), middleware.RequireAdmin(admin.IsAdmin))
	{
		adminGroup.POST("/resolve", h.Admin.Resolve)
		adminGroup.POST("/arbitrators", h.Admin.RegisterArbitrator)
		adminGroup.GET("/audit", h.Admin.AuditLog)
	}

	return r
}
