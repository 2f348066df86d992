package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/tidepress/mail-dispatch/internal/attachment"
	"github.com/tidepress/mail-dispatch/internal/config"
	"github.com/tidepress/mail-dispatch/internal/infra/postgresql"
	"github.com/tidepress/mail-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/tidepress/mail-dispatch/internal/infra/redis"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/observability"
	"github.com/tidepress/mail-dispatch/internal/queue"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"github.com/tidepress/mail-dispatch/internal/service"
	"github.com/tidepress/mail-dispatch/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// consumerPrefetch keeps the worker from pulling more submissions than one
// dispatch batch can reasonably cover before the next ack.
const consumerPrefetch = 4

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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	queueRepo := repository.NewGormQueueRepo(db)
	usageRepo := repository.NewGormUsageRepo(db)

	usage, err := service.NewUsageTracker(usageRepo, cfg.DailySendLimit, logger)
	if err != nil {
		logger.Fatal("usage tracker initialization failed", zap.Error(err))
	}

	sendGate, err := infraredis.NewSendGate(rdb, cfg.SendBurstPerSec)
	if err != nil {
		logger.Fatal("send gate initialization failed", zap.Error(err))
	}

	mailTransport, err := mailer.NewResendTransport(cfg.ResendAPIKey, cfg.FromAddress)
	if err != nil {
		logger.Fatal("mail transport initialization failed", zap.Error(err))
	}

	renderer, err := mailer.NewRenderer()
	if err != nil {
		logger.Fatal("template initialization failed", zap.Error(err))
	}

	store, err := storage.NewClient(cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal("object store initialization failed", zap.Error(err))
	}
	fetcher, err := attachment.NewProcessor(store, logger)
	if err != nil {
		logger.Fatal("attachment processor initialization failed", zap.Error(err))
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
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
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
		logger.Fatal("drainer initialization failed", zap.Error(err))
	}

	runner, err := service.NewDrainRunner(drainer, cfg.DrainInterval(), logger)
	if err != nil {
		logger.Fatal("drain runner initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher.SetMetrics(metrics)
	drainer.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("submission consumer started", zap.String("queue", queue.SubmissionsQueue))
		return consumer.Consume(groupCtx, queue.SubmissionsQueue, func(ctx context.Context, msg queue.SubmissionMessage) error {
			ctx = observability.WithCorrelationID(ctx, msg.Submission.CorrelationID)
			_, err := dispatcher.Dispatch(ctx, msg.Submission)
			return err
		})
	})
	g.Go(func() error {
		logger.Info("drain runner started", zap.Duration("interval", cfg.DrainInterval()))
		return runner.Start(groupCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
