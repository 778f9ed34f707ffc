package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/events"
	"github.com/andreasstove999/storefront/internal/inventory"
	"github.com/andreasstove999/storefront/internal/inventoryapi"
	"github.com/andreasstove999/storefront/internal/platform/config"
	"github.com/andreasstove999/storefront/internal/platform/logging"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/postgres"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
	"github.com/andreasstove999/storefront/internal/platform/tracing"
)

type serviceConfig struct {
	Addr        string `env:"HTTP_ADDR" envDefault:":8083"`
	DatabaseURL string `env:"INVENTORY_DB_DSN,notEmpty"`

	Rabbit    config.Rabbit
	Telemetry config.Telemetry
}

func main() {
	cfg, err := config.Load[serviceConfig]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inventory-service: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(events.InventoryServiceName, cfg.Telemetry.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inventory-service: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("inventory-service stopped", zap.Error(err))
	}
}

func run(cfg serviceConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.Tracing(events.InventoryServiceName))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, events.InventoryServiceName)
	messagingMetrics := metrics.NewMessagingMetrics(reg, events.InventoryServiceName)

	if err := postgres.Migrate(cfg.DatabaseURL, postgres.InventorySchema, logger); err != nil {
		return err
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := inventory.NewPostgresRepository(pool)

	conn, err := rabbit.Dial(ctx, cfg.Rabbit.URL, cfg.Rabbit.RetryPolicy(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer := rabbit.NewConsumer(conn, events.InventoryTopology(),
		cfg.Rabbit.Consumer(events.StockAdjustmentQueue, events.InventoryServiceName),
		events.StockAdjustmentHandler(repo, events.InventoryServiceName, logger, messagingMetrics),
		logger, messagingMetrics,
	)

	router := inventoryapi.NewRouter(inventoryapi.NewHandler(repo, logger), logger, serverMetrics, metrics.Handler(reg))
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("stock adjustment consumer: %w", err)
		}
	}()
	go func() {
		logger.Info("inventory-service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return runErr
}
