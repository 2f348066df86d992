package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/tidepress/mail-dispatch/internal/attachment"
	"github.com/tidepress/mail-dispatch/internal/config"
	"github.com/tidepress/mail-dispatch/internal/handler"
	"github.com/tidepress/mail-dispatch/internal/infra/postgresql"
	"github.com/tidepress/mail-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/tidepress/mail-dispatch/internal/infra/redis"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/observability"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"github.com/tidepress/mail-dispatch/internal/service"
	"github.com/tidepress/mail-dispatch/internal/storage"
	"github.com/tidepress/mail-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	dispatcher, drainer, queueRepo, usage, err := buildServices(cfg, db, rdb, logger)
	if err != nil {
		logger.Fatal("service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher.SetMetrics(metrics)
	drainer.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterDispatchRoutes(app, dispatcher, drainer, queueRepo, usage); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mail-dispatch api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}

func buildServices(
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	logger *zap.Logger,
) (*service.BatchDispatcher, *service.QueueDrainer, repository.QueueRepository, *service.UsageTracker, error) {
	queueRepo := repository.NewGormQueueRepo(db)
	usageRepo := repository.NewGormUsageRepo(db)

	usage, err := service.NewUsageTracker(usageRepo, cfg.DailySendLimit, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sendGate, err := infraredis.NewSendGate(rdb, cfg.SendBurstPerSec)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	mailTransport, err := mailer.NewResendTransport(cfg.ResendAPIKey, cfg.FromAddress)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	renderer, err := mailer.NewRenderer()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store, err := storage.NewClient(cfg.StorageBaseURL)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	fetcher, err := attachment.NewProcessor(store, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	retries := service.NewRetryScheduler()

	dispatcher, err := service.NewBatchDispatcher(
		mailTransport,
		renderer,
		fetcher,
		queueRepo,
		usage,
		retries,
		sendGate,
		cfg.AdminPrimaryEmail,
		cfg.AdminSecondaryEmail,
		logger,
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	drainer, err := service.NewQueueDrainer(
		queueRepo,
		usage,
		mailTransport,
		retries,
		sendGate,
		cfg.DrainBatchCap,
		cfg.DrainRetryPermanent,
		logger,
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return dispatcher, drainer, queueRepo, usage, nil
}
