package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
)

type Source interface {
	Drain(ctx context.Context, limit int, publish func(context.Context, Record) error) (int, error)
	Pending(ctx context.Context) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg rabbit.Message) error
}

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

// Relay moves committed outbox records to the broker. It polls on an interval
// and can be woken early with Notify after a commit.
type Relay struct {
	source  Source
	pub     Publisher
	logger  *zap.Logger
	metrics *metrics.MessagingMetrics
	cfg     RelayConfig
	wake    chan struct{}
}

func NewRelay(source Source, pub Publisher, logger *zap.Logger, m *metrics.MessagingMetrics, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Relay{
		source:  source,
		pub:     pub,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
}

func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	r.logger.Info("outbox relay started", zap.Int("batch_size", r.cfg.BatchSize))
	for {
		n, err := r.source.Drain(ctx, r.cfg.BatchSize, r.publish)
		if ctx.Err() != nil {
			r.logger.Info("outbox relay stopped")
			return nil
		}

		if err != nil {
			wait := b.NextBackOff()
			level := r.logger.Warn
			if !errors.Is(err, rabbit.ErrQueueUnavailable) {
				level = r.logger.Error
			}
			level("outbox drain failed", zap.Int("published", n), zap.Duration("retry_in", wait), zap.Error(err))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		b.Reset()
		r.observeBacklog(ctx)

		if n == r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	err := r.pub.Publish(ctx, rabbit.Message{
		Exchange:   rec.Exchange,
		RoutingKey: rec.RoutingKey,
		MessageID:  rec.EventID,
		Body:       rec.Payload,
	})
	if r.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		r.metrics.Published.WithLabelValues(rec.RoutingKey, result).Inc()
	}
	if err == nil {
		r.logger.Debug("outbox record published",
			zap.String("event_id", rec.EventID),
			zap.String("routing_key", rec.RoutingKey),
			zap.Int("attempts", rec.Attempts),
		)
	}
	return err
}

func (r *Relay) observeBacklog(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	n, err := r.source.Pending(ctx)
	if err != nil {
		r.logger.Debug("count outbox backlog", zap.Error(err))
		return
	}
	r.metrics.OutboxBacklog.Set(float64(n))
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
