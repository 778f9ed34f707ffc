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

	"github.com/andreasstove999/storefront/internal/gateway"
	"github.com/andreasstove999/storefront/internal/platform/config"
	"github.com/andreasstove999/storefront/internal/platform/logging"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/tracing"
)

const serviceName = "api-gateway"

func main() {
	cfg, err := config.Load[gateway.Config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}

	logger, err := logging.New(serviceName, cfg.Telemetry.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-gateway stopped", zap.Error(err))
	}
}

func run(cfg gateway.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.Tracing(serviceName))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	orders, err := gateway.NewUpstream("order-service", cfg.OrderURL, httpClient)
	if err != nil {
		return err
	}
	inventory, err := gateway.NewUpstream("inventory-service", cfg.InventoryURL, httpClient)
	if err != nil {
		return err
	}

	router := gateway.NewRouter(gateway.Deps{
		Logger:         logger,
		Cfg:            cfg,
		Verifier:       gateway.NewVerifier(cfg.JWTSecret),
		Order:          orders,
		Inventory:      inventory,
		Metrics:        metrics.NewServerMetrics(reg, serviceName),
		MetricsHandler: metrics.Handler(reg),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return runErr
}
