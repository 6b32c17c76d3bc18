package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"perf-agent-server/internal/api"
	"perf-agent-server/internal/config"
	"perf-agent-server/internal/database"
	"perf-agent-server/internal/messaging"
	"perf-agent-server/internal/repository"
	"perf-agent-server/internal/service"
	"perf-agent-server/shared/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// The logger is not configured yet.
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log, logLevel, err := logger.Build(cfg.LoggerConfig("perf-agent-api"))
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	cfg.LogSummary(log)
	if cfg.AI.APIKey == "" && cfg.AI.ClientType != service.ClientTypeOllama {
		log.Warn("API_KEY is not set; plan generation requests will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aiClient, err := service.NewAIClient(ctx, cfg.AI, log)
	if err != nil {
		log.Fatal("Failed to create AI client", zap.Error(err))
	}
	generator := service.NewPlanGenerator(aiClient, log)

	var (
		planRepo  repository.PlanRepository
		publisher messaging.TaskPublisher
		dbPool    *pgxpool.Pool
		mqConn    *amqp.Connection
	)

	if cfg.DB.Enabled {
		dbPool, err = database.Connect(ctx, cfg.GetDSN(), cfg.DB, database.DefaultRetryPolicy, log)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer dbPool.Close()

		if err := database.Migrate(dbPool, log); err != nil {
			log.Fatal("Failed to apply database migrations", zap.Error(err))
		}
		planRepo = repository.NewPostgresPlanRepository(dbPool, log)
	}

	if cfg.DB.Enabled && cfg.RabbitMQ.Enabled() {
		mqConn, err = messaging.Connect(ctx, cfg.RabbitMQ.URL, messaging.DefaultRetryPolicy, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()

		ch, err := mqConn.Channel()
		if err != nil {
			log.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
		}
		defer ch.Close()

		if err := messaging.DeclareTaskQueue(ch, cfg.RabbitMQ.TaskQueue); err != nil {
			log.Fatal("Failed to declare task queue", zap.Error(err))
		}
		publisher = messaging.NewTaskPublisher(ch, cfg.RabbitMQ.TaskQueue, log)
	} else if cfg.RabbitMQ.Enabled() {
		log.Warn("RABBITMQ_URL is set but DB_ENABLED is false; async generation is disabled")
	}

	planHandler := api.NewPlanHandler(generator, planRepo, publisher, log)
	router := api.NewRouter(api.RouterConfig{
		Debug:          cfg.AppEnv == "development",
		AllowedOrigins: cfg.GetAllowedOrigins(),
		LogLevel:       logLevel,
	}, planHandler, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPServerPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: a generation can take minutes.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server listen error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}
