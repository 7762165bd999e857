package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/requisition-engine/internal/config"
	"github.com/kursadbilgin/requisition-engine/internal/fusion"
	"github.com/kursadbilgin/requisition-engine/internal/handler"
	"github.com/kursadbilgin/requisition-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/requisition-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/requisition-engine/internal/infra/redis"
	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/queue"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"github.com/kursadbilgin/requisition-engine/internal/service"
	"github.com/kursadbilgin/requisition-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 1
	retryScanEvery   = 5 * time.Second
	retryScanLimit   = 100
	approvalSyncSize = 50
	retentionEvery   = 10 * time.Minute
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("requisition-engine stopped with error", zap.Error(err))
	}
	logger.Info("requisition-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.FusionRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger)

	fusionClient, err := fusion.NewRESTClient(fusion.Config{
		BaseURL:          cfg.FusionBaseURL,
		Username:         cfg.FusionUsername,
		Password:         cfg.FusionPassword,
		RESTVersion:      cfg.FusionRESTVersion,
		ExternalRefField: cfg.FusionExternalRefField,
		Timeout:          cfg.FusionTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("fusion client initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	requisitionRepo := repository.NewGormRequisitionRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	batchService, err := service.NewBatchService(batchRepo, requisitionRepo, publisher, logger)
	if err != nil {
		return err
	}
	batchService.SetMetrics(metrics)

	policy := queue.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.JobMaxAttempts
	policy.BackoffBase = cfg.JobBackoffBase()

	worker, err := service.NewWorkerService(
		requisitionRepo, attemptRepo, batchService, consumer, fusionClient, limiter,
		policy, cfg.WorkerConcurrency, logger,
	)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(requisitionRepo, publisher, retryScanEvery, retryScanLimit, logger)
	if err != nil {
		return err
	}

	sweeper, err := service.NewRetentionSweeper(
		attemptRepo, retentionEvery, cfg.RetentionKeepCompleted, cfg.RetentionKeepFailed, logger,
	)
	if err != nil {
		return err
	}
	sweeper.SetMetrics(metrics)

	approvalSync, err := service.NewApprovalSync(
		requisitionRepo, batchService, fusionClient, limiter,
		cfg.ApprovalSyncInterval(), approvalSyncSize, logger,
	)
	if err != nil {
		return err
	}
	approvalSync.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    cfg.MaxFileSize + 1<<20,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterBatchRoutes(app, batchService, int64(cfg.MaxFileSize)); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("requisition-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error { return ignoreCanceled(worker.Start(groupCtx)) })
	g.Go(func() error { return ignoreCanceled(retryScanner.Start(groupCtx)) })
	g.Go(func() error { return ignoreCanceled(sweeper.Start(groupCtx)) })
	g.Go(func() error { return ignoreCanceled(approvalSync.Start(groupCtx)) })

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
