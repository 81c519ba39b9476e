/**
 * @description
 * This is the main entry point for the recurring-service, the background
 * engine that materializes due recurring transactions and fires budget
 * alerts. It is a long-running process with three moving parts: a cron
 * scheduler driving the two sweeps, a RabbitMQ consumer feeding the
 * per-user throttled dispatcher, and a small HTTP listener for health checks.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wealthos/recurring-service/internal/app"
	"github.com/wealthos/recurring-service/internal/config"
	"github.com/wealthos/recurring-service/internal/domain"
	"github.com/wealthos/recurring-service/internal/store"
	"github.com/wealthos/recurring-service/pkg/mailer"
	"github.com/wealthos/recurring-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Establish database connection with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 4
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the per-user throttle. Without it the service still runs,
	// just unthrottled.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing, per-user throttling disabled", "env", "REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed, per-user throttling disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed, per-user throttling disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
			}
			cancelPing()
		}
	}

	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect rabbitmq producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	logger.Info("rabbitmq producer connected")

	// Initialize dependencies
	repository := store.NewPostgresRepository(dbpool)
	mailClient := mailer.NewClient(cfg.EmailAPIBaseURL, cfg.EmailAPIKey, cfg.EmailFromAddress)
	evaluator := app.NewBudgetAlertEvaluator(repository, mailClient, cfg.BudgetAlertThresholdPercent, logger)
	jobs := app.NewJobs(repository, producer, evaluator, logger, time.Duration(cfg.SweepTimeoutSeconds)*time.Second)
	scheduler := app.NewScheduler(jobs, logger, *cfg)

	processor := app.NewProcessor(repository, logger, time.Duration(cfg.ProcessTimeoutSeconds)*time.Second)
	var limiterClient redis.UniversalClient
	if redisClient != nil {
		limiterClient = redisClient
	}
	limiter := app.NewRedisRateLimiter(limiterClient, "recurring:throttle")
	dispatcher := app.NewDispatcher(processor.HandleDueTransaction, limiter, app.DispatcherConfig{
		Limit:   cfg.UserThrottleLimit,
		Window:  time.Duration(cfg.UserThrottleWindowSeconds) * time.Second,
		MaxWait: time.Duration(cfg.UserThrottleMaxWaitSeconds) * time.Second,
	}, logger)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect rabbitmq consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	bindings := map[string]rabbitmq.AsyncHandler{
		domain.RoutingKeyRecurringDue: dispatcher.Submit,
	}
	if err := consumer.ConsumeWithBindings(rabbitmq.TransactionEventsExchange, "recurring_service_due_transactions", cfg.ConsumerPrefetch, bindings); err != nil {
		logger.Error("failed to start rabbitmq consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("rabbitmq consumer started", "queue", "recurring_service_due_transactions")

	// Start the cron scheduler in the background
	scheduler.Start()
	logger.Info("scheduler started")

	// Health endpoint for orchestrator probes.
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Recurring service is healthy"))
	})
	server := &http.Server{Addr: ":" + cfg.ServerPort, Handler: r}
	go func() {
		logger.Info("health server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	// Stop discovery first, then stop intake, then drain in-flight work.
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped")

	consumer.Close()
	dispatcher.Close()
	logger.Info("dispatcher drained")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", "error", err)
	}
	logger.Info("recurring service stopped gracefully")
}
