package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/tracing"
)

// HandlerFunc processes one message body. A nil error acks the delivery, an
// error wrapped with Discard acks and drops it, any other error requeues it
// after the consumer's retry delay.
type HandlerFunc func(ctx context.Context, body []byte) error

type ConsumerConfig struct {
	Queue      string
	Tag        string
	Prefetch   int
	RetryDelay time.Duration
}

type Consumer struct {
	conn     *Connection
	topology Topology
	cfg      ConsumerConfig
	handler  HandlerFunc
	logger   *zap.Logger
	metrics  *metrics.MessagingMetrics
}

func NewConsumer(conn *Connection, topology Topology, cfg ConsumerConfig, handler HandlerFunc, logger *zap.Logger, m *metrics.MessagingMetrics) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Consumer{
		conn:     conn,
		topology: topology,
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With(zap.String("queue", cfg.Queue)),
		metrics:  m,
	}
}

// Run consumes until ctx is cancelled, re-subscribing after channel or
// connection loss.
func (c *Consumer) Run(ctx context.Context) error {
	b := c.conn.policy.backOff(ctx)
	for {
		started := time.Now()
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}

		if time.Since(started) > c.conn.policy.MaxInterval {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait < 0 {
			return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
		}
		c.logger.Warn("consumer interrupted, resubscribing", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := c.topology.Declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("channel closed: %v", amqpErr)
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msgCtx, span := tracing.Tracer().Start(
		tracing.Extract(ctx, d.Headers),
		c.cfg.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := c.logger.With(zap.String("message_id", d.MessageId), zap.Bool("redelivered", d.Redelivered))

	err := c.handler(msgCtx, d.Body)
	switch {
	case err == nil:
		c.settle(log, d.Ack(false), metrics.OutcomeAck)
	case IsDiscard(err):
		log.Warn("dropping message", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		c.settle(log, d.Ack(false), metrics.OutcomeDropped)
	default:
		log.Error("handle message failed, requeueing", zap.Error(err), zap.Duration("delay", c.cfg.RetryDelay))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.RetryDelay):
		}
		c.settle(log, d.Nack(false, true), metrics.OutcomeRetry)
	}
}

func (c *Consumer) settle(log *zap.Logger, err error, outcome string) {
	if err != nil {
		log.Error("settle delivery", zap.String("outcome", outcome), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.Consumed.WithLabelValues(c.cfg.Queue, outcome).Inc()
	}
}
