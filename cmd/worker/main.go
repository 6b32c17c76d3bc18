package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perf-agent-server/internal/config"
	"perf-agent-server/internal/database"
	"perf-agent-server/internal/messaging"
	"perf-agent-server/internal/repository"
	"perf-agent-server/internal/service"
	"perf-agent-server/internal/worker"
	"perf-agent-server/shared/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log, logLevel, err := logger.Build(cfg.LoggerConfig("jmeter-plan-worker"))
	if err != nil {
		zap.NewExample().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	cfg.LogSummary(log)
	if !cfg.DB.Enabled || !cfg.RabbitMQ.Enabled() {
		log.Fatal("The worker requires DB_ENABLED=true and RABBITMQ_URL")
	}
	if cfg.AI.APIKey == "" && cfg.AI.ClientType != service.ClientTypeOllama {
		log.Warn("API_KEY is not set; every task will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aiClient, err := service.NewAIClient(ctx, cfg.AI, log)
	if err != nil {
		log.Fatal("Failed to create AI client", zap.Error(err))
	}
	generator := service.NewPlanGenerator(aiClient, log)

	dbPool, err := database.Connect(ctx, cfg.GetDSN(), cfg.DB, database.DefaultRetryPolicy, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := database.Migrate(dbPool, log); err != nil {
		log.Fatal("Failed to apply database migrations", zap.Error(err))
	}
	planRepo := repository.NewPostgresPlanRepository(dbPool, log)

	mqConn, err := messaging.Connect(ctx, cfg.RabbitMQ.URL, messaging.DefaultRetryPolicy, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()

	consumeCh, err := mqConn.Channel()
	if err != nil {
		log.Fatal("Failed to open consumer channel", zap.Error(err))
	}
	defer consumeCh.Close()
	if err := messaging.DeclareTaskQueue(consumeCh, cfg.RabbitMQ.TaskQueue); err != nil {
		log.Fatal("Failed to declare task queue", zap.Error(err))
	}

	// Publishing gets its own channel so a slow consumer never blocks notifications.
	notifyCh, err := mqConn.Channel()
	if err != nil {
		log.Fatal("Failed to open notifier channel", zap.Error(err))
	}
	defer notifyCh.Close()
	if err := messaging.DeclareNotificationQueue(notifyCh, cfg.RabbitMQ.NotificationQueue); err != nil {
		log.Fatal("Failed to declare notification queue", zap.Error(err))
	}
	notifier := messaging.NewNotifier(notifyCh, cfg.RabbitMQ.NotificationQueue, log)

	taskHandler := worker.NewTaskHandler(generator, planRepo, notifier, log)
	consumer := messaging.NewPlanTaskConsumer(consumeCh, cfg.RabbitMQ.TaskQueue, taskHandler, worker.MetricsIncrementDecodeFailure, log)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	if err := consumer.Start(consumerCtx); err != nil {
		log.Fatal("Failed to start task consumer", zap.Error(err))
	}

	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, log)
		if err != nil {
			log.Warn("Pushgateway unavailable, metrics are only served over HTTP", zap.Error(err))
		} else {
			go pusher.Run(ctx, cfg.MetricsPushInterval)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", worker.MetricsHandler())
	mux.Handle("/log/level", logLevel)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Starting metrics server", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", zap.Error(err))
		}
	}()

	log.Info("Worker started, waiting for tasks. Press CTRL+C to exit")
	<-ctx.Done()
	log.Info("Shutting down worker...")

	// Let the in-flight task finish before the connections close.
	consumer.Stop()
	cancelConsumer()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown", zap.Error(err))
	}
	log.Info("Worker exiting")
}
