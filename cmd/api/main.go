package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/bootstrap"
	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/internal/database"
	"github.com/noah-isme/assessment-api/internal/handler"
	"github.com/noah-isme/assessment-api/internal/middleware"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/internal/router"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/pkg/taskrunner"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, status cache and cross-node streaming disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NatsURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NatsURL, cfg.AppName, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, notifications use the in-process queue")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	host, err := bootstrap.RepositoryHost(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure repository host")
	}
	sender, err := bootstrap.MailSender(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure mail sender")
	}
	screenshots, err := bootstrap.ScreenshotStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure screenshot store")
	}

	validate := service.NewValidator()

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	resultRepo := repository.NewTestResultRepository(db)
	testRepo := repository.NewTestRepository(db)
	candidateRepo := repository.NewCandidateRepository(db)
	deliveryRepo := repository.NewNotificationDeliveryRepository(db)

	dispatcher := service.NewNotificationDispatcher(sender, deliveryRepo, natsConn, service.DispatcherConfig{
		QueueSize: cfg.NotificationQueue,
		Workers:   cfg.NotificationWorkers,
		Subject:   cfg.NotificationSubject,
	}, logger)
	dispatcher.Start(ctx)

	stream := service.NewStatusStream(redisClient, "", logger)
	stream.Start(ctx)

	cache := service.NewStatusCache(redisClient, cfg.StatusCacheTTL, logger)
	runner := taskrunner.New()

	reconciler := service.NewReconciler(submissionRepo, resultRepo, assignmentRepo, cfg.GradingWebhookSecret, service.ReconcilerDeps{
		Notifier:    dispatcher,
		Publisher:   stream,
		Cache:       cache,
		Screenshots: screenshots,
		AccessLink:  cfg.AccessLink,
	}, logger)
	materializer := service.NewMaterializer(host, testRepo, assignmentRepo, submissionRepo, reconciler, cache, bootstrap.GradingSettings(cfg), logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, testRepo, candidateRepo, dispatcher, cfg.AccessLink, validate, logger)
	submissionService := service.NewSubmissionService(assignmentRepo, submissionRepo, resultRepo, materializer, runner, cache, cfg.MaterializeTimeout, validate, logger)
	testService := service.NewTestService(testRepo, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    16 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		DB:                db,
		AssessmentHandler: handler.NewAssessmentHandler(assignmentService, submissionService, stream, logger),
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, logger),
		TestHandler:       handler.NewTestHandler(testService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(materializer, logger),
		WebhookHandler:    handler.NewWebhookHandler(reconciler, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	logger.Info().Str("address", cfg.HTTPAddress()).Str("repo_host", cfg.RepoHost).Msg("assessment api started")

	waitForShutdown(app, runner, logger)
	cancel()
	dispatcher.Wait()
	logger.Info().Msg("server stopped")
}

func waitForShutdown(app *fiber.App, runner *taskrunner.Runner, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := runner.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("background materializations still running at shutdown")
	}
}
