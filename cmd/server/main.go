package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/swap-arbiter/internal/config"
	"github.com/ignatzorin/swap-arbiter/internal/db"
	"github.com/ignatzorin/swap-arbiter/internal/goroutine"
	httpHandlers "github.com/ignatzorin/swap-arbiter/internal/http/handlers"
	httpRouter "github.com/ignatzorin/swap-arbiter/internal/http/router"
	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/repository"
	"github.com/ignatzorin/swap-arbiter/internal/repository/memory"
	"github.com/ignatzorin/swap-arbiter/internal/service"
	"github.com/ignatzorin/swap-arbiter/internal/ws"
)

const devTokenTTL = 24 * time.Hour

// stores набор хранилищ выбранного драйвера.
type stores struct {
	orders      service.OrderStore
	tasks       service.TaskStore
	validators  service.ValidatorStore
	disputes    service.DisputeStore
	arbitrators service.ArbitratorRegistry
	audit       service.AuditStore
	db          *sqlx.DB
}

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка подготовки хранилища")
	}
	if st.db != nil {
		defer safeClose(st.db)
	}

	// Внешние участники: курс, лимиты, выпуск средств.
	cache := service.NewCacheService(ctx)
	var rateSource service.RateSource = service.NewStaticRates(cfg.Currencies)
	if cfg.RateOracleURL != "" {
		rateSource = service.NewHTTPRates(cfg.RateOracleURL, cfg.RateOracleJSONPath, 5*time.Second)
	}
	rates := service.NewFiatConverter(service.NewCachedRates(rateSource, cache, cfg.RateCacheTTL))
	limits := service.NewStaticLimitVerifier(cfg.DefaultTierFiatLimit, nil)

	// Сервисы.
	orderService := service.NewOrderService(st.orders, rates, limits, service.LogSettler{}, service.OrderPolicy{
		TTL:                 cfg.OrderTTL,
		DisputePeriod:       cfg.DisputePeriod,
		MinAmount:           cfg.MinOrderAmount,
		MaxAmount:           cfg.MaxOrderAmount,
		ConservativeFiatCap: cfg.ConservativeFiatCap,
	})
	ledgerService := service.NewLedgerService(st.validators, cfg.ValidatorReward)
	validationService := service.NewValidationService(st.tasks, orderService, ledgerService, cfg.ValidationThreshold, cfg.ValidationTimeout)
	disputeService := service.NewDisputeService(st.disputes, st.arbitrators, ledgerService, orderService, service.DisputePolicy{
		PanelSize:    cfg.ArbitratorPanelSize,
		VotingWindow: cfg.DisputeVotingWindow,
		Arbitrators:  cfg.Arbitrators,
		MinReviews:   cfg.ArbitratorMinReviews,
		MinAccuracy:  cfg.ArbitratorMinAccuracyPct,
	})
	adminService := service.NewAdminService(cfg.AdminAddresses, validationService, disputeService, orderService, st.audit)
	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	if cfg.ValidationEnabled {
		orderService.SetTaskOpener(validationService)
	}

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	go hub.Run()
	orderService.SetHub(hub)
	validationService.SetHub(hub)
	disputeService.SetHub(hub)

	// Фоновый обход просрочек.
	sweeper := service.NewSweeper(ctx, service.DefaultSweepJobs(orderService, validationService, disputeService)...)
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		logger.Log.WithError(err).Fatal("main: не удалось запустить sweeper")
	}
	defer sweeper.Stop()

	// HTTP хэндлеры.
	var pinger httpHandlers.Pinger
	if st.db != nil {
		pinger = st.db
	}
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Auth:        httpHandlers.NewAuthHandler(tokenManager, devTokenTTL),
		Orders:      httpHandlers.NewOrderHandler(orderService, disputeService, cfg.MaxProofBytes),
		Validations: httpHandlers.NewValidationHandler(validationService, ledgerService),
		Disputes:    httpHandlers.NewDisputeHandler(disputeService, adminService),
		Admin:       httpHandlers.NewAdminHandler(adminService),
		Health:      httpHandlers.NewHealthHandler(pinger, cfg.StorageDriver),
		WS:          httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, adminService)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	})

	logger.Log.WithFields(logrus.Fields{
		"port":       cfg.HTTPPort,
		"storage":    cfg.StorageDriver,
		"validation": cfg.ValidationEnabled,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.WithError(err).Fatal("main: сервер завершился с ошибкой")
	}
}

// openStores выбирает хранилище по STORAGE_DRIVER.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StorageDriver == "memory" {
		logger.Log.Warn("main: данные хранятся в памяти и теряются при перезапуске")
		return &stores{
			orders:      memory.NewOrderStore(),
			tasks:       memory.NewValidationStore(),
			validators:  memory.NewValidatorStore(),
			disputes:    memory.NewDisputeStore(),
			arbitrators: memory.NewArbitratorStore(),
			audit:       memory.NewAuditStore(),
		}, nil
	}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, conn, cfg.MigrationsPath); err != nil {
		safeClose(conn)
		return nil, err
	}
	return &stores{
		orders:      repository.NewOrderRepository(conn),
		tasks:       repository.NewValidationRepository(conn),
		validators:  repository.NewValidatorRepository(conn),
		disputes:    repository.NewDisputeRepository(conn),
		arbitrators: repository.NewArbitratorRepository(conn),
		audit:       repository.NewAuditRepository(conn),
		db:          conn,
	}, nil
}

// safeClose закрывает соединение с базой.
func safeClose(conn *sqlx.DB) {
	if err := conn.Close(); err != nil {
		logger.Log.WithError(err).Error("main: ошибка закрытия базы")
	}
}
