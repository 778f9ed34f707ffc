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

	"github.com/andreasstove999/storefront/internal/catalog"
	"github.com/andreasstove999/storefront/internal/events"
	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/orderapi"
	"github.com/andreasstove999/storefront/internal/outbox"
	"github.com/andreasstove999/storefront/internal/platform/config"
	"github.com/andreasstove999/storefront/internal/platform/logging"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/postgres"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
	"github.com/andreasstove999/storefront/internal/platform/tracing"
	"github.com/andreasstove999/storefront/internal/sequence"
)

type serviceConfig struct {
	Port        string        `env:"PORT" envDefault:"8082"`
	DatabaseURL string        `env:"ORDER_DB_DSN,notEmpty"`
	CatalogURL  string        `env:"INVENTORY_URL" envDefault:"http://inventory-service:8083"`
	HTTPTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"3s"`

	AcceptLegacyPayments bool `env:"ACCEPT_LEGACY_PAYMENT_EVENTS" envDefault:"true"`

	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`

	Rabbit    config.Rabbit
	Telemetry config.Telemetry
}

func main() {
	cfg, err := config.Load[serviceConfig]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(events.OrderServiceName, cfg.Telemetry.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("order-service stopped", zap.Error(err))
	}
}

func run(cfg serviceConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.Tracing(events.OrderServiceName))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(reg, events.OrderServiceName)
	messagingMetrics := metrics.NewMessagingMetrics(reg, events.OrderServiceName)

	// DB
	if err := postgres.Migrate(cfg.DatabaseURL, postgres.OrderSchema, logger); err != nil {
		return err
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// RabbitMQ
	conn, err := rabbit.Dial(ctx, cfg.Rabbit.URL, cfg.Rabbit.RetryPolicy(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	topology := events.OrderServiceTopology(cfg.AcceptLegacyPayments)
	publisher := rabbit.NewPublisher(conn, topology, cfg.Rabbit.PublishTimeout)
	defer publisher.Close()

	relay := outbox.NewRelay(outbox.NewStore(db), publisher, logger.Named("outbox"), messagingMetrics, outbox.RelayConfig{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
	})

	prices, err := catalog.NewClient(cfg.CatalogURL, &http.Client{Timeout: cfg.HTTPTimeout})
	if err != nil {
		return err
	}

	writer := events.NewOutboxWriter(sequence.NewRepository(db), events.OrderServiceName)
	svc := order.NewService(order.NewRepository(db, writer), prices, logger, order.WithCommitHook(relay.Notify))

	paid := events.PaymentCompletedHandler(svc, cfg.AcceptLegacyPayments, logger)
	consumers := []*rabbit.Consumer{
		rabbit.NewConsumer(conn, topology,
			cfg.Rabbit.Consumer(events.PaymentCompletedQueue, events.OrderServiceName),
			paid, logger, messagingMetrics,
		),
	}
	if cfg.AcceptLegacyPayments {
		consumers = append(consumers, rabbit.NewConsumer(conn, topology,
			cfg.Rabbit.Consumer(events.LegacyPaymentCompletedQueue, events.OrderServiceName+"-legacy"),
			paid, logger, messagingMetrics,
		))
	}

	// HTTP
	router := orderapi.NewRouter(orderapi.NewHandler(svc, logger), orderapi.RouterDeps{
		Logger:         logger,
		Metrics:        serverMetrics,
		MetricsHandler: metrics.Handler(reg),
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2+len(consumers))
	go func() {
		if err := relay.Run(ctx); err != nil {
			errCh <- fmt.Errorf("outbox relay: %w", err)
		}
	}()
	for _, c := range consumers {
		go func() {
			if err := c.Run(ctx); err != nil {
				errCh <- fmt.Errorf("payment consumer: %w", err)
			}
		}()
	}
	go func() {
		logger.Info("order-service listening", zap.String("addr", srv.Addr))
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
