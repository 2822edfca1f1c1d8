/**
 * @description
 * Entry point for the billing service. Wires the Postgres repository,
 * payment gateway client, RabbitMQ publisher, HTTP API, and the cron
 * scheduler that runs the daily billing sweep.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dineflow/billing-service/internal/api"
	"github.com/dineflow/billing-service/internal/app"
	"github.com/dineflow/billing-service/internal/config"
	"github.com/dineflow/billing-service/internal/gateway"
	"github.com/dineflow/billing-service/internal/store"
	billingrabbit "github.com/dineflow/billing-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading configuration from environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	pgConfig.MaxConns = 100
	pgConfig.MinConns = 20
	pgConfig.MaxConnLifetime = 30 * time.Minute
	pgConfig.MaxConnIdleTime = 5 * time.Minute
	pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewRepository(dbpool)

	var gw gateway.Client
	switch cfg.GatewayProvider {
	case "remote":
		gw = gateway.NewRemoteClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
		logger.Info("using remote payment gateway", "base_url", cfg.GatewayBaseURL)
	default:
		gw = gateway.NewMockClient(cfg.MockFailureRate, cfg.MockLatency, cfg.MockSeed)
		logger.Info("using mock payment gateway", "failure_rate", cfg.MockFailureRate)
	}

	var publisher app.EventPublisher = &billingrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := billingrabbit.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	retry := gateway.DefaultRetryPolicy()
	processor := app.NewProcessor(repository, gw, publisher, logger, cfg.BillingCurrency, retry, cfg.LeaseStale)
	sweeper := app.NewSweeper(repository, processor, publisher, logger, cfg.SweepWorkers)
	service := app.NewService(repository, gw, publisher, logger, cfg.TrialDays)
	reconciler := app.NewReconciler(repository, logger, cfg.LeaseStale)

	scheduler := app.NewScheduler(sweeper, logger, cfg)
	scheduler.Start()
	logger.Info("billing sweep scheduler started", "schedule", cfg.SweepSchedule)

	handler := api.NewHandler(service, sweeper, processor, repository)
	webhookHandler := api.NewWebhookHandler(reconciler, cfg.GatewayWebhookKey)
	router := api.NewRouter(handler, webhookHandler, cfg.JWTSecret, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("server stopped")
}
