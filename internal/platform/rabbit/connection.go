package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type dialFunc func(url string) (*amqp.Connection, error)

// Connection owns the single AMQP connection of a process and re-dials it with
// bounded exponential backoff whenever a caller finds it closed.
type Connection struct {
	url    string
	logger *zap.Logger
	dial   dialFunc
	policy RetryPolicy

	mu   sync.Mutex
	conn *amqp.Connection
}

type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds a single reconnect attempt; zero retries until ctx is done.
	MaxElapsed time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		MaxElapsed:      2 * time.Minute,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func defaultDial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
}

// Dial connects to the broker, retrying per policy.
func Dial(ctx context.Context, url string, policy RetryPolicy, logger *zap.Logger) (*Connection, error) {
	c := &Connection{url: url, logger: logger, dial: defaultDial, policy: policy}
	if _, err := c.connection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Channel opens a fresh channel, reconnecting first if the connection dropped.
func (c *Connection) Channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrQueueUnavailable, err)
	}
	return ch, nil
}

func (c *Connection) connection(ctx context.Context) (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	var conn *amqp.Connection
	attempt := 0
	op := func() error {
		attempt++
		var err error
		conn, err = c.dial(c.url)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("rabbitmq dial failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify); err != nil {
		return nil, fmt.Errorf("%w: dial after %d attempts: %v", ErrQueueUnavailable, attempt, err)
	}

	c.logger.Info("rabbitmq connected", zap.Int("attempts", attempt))
	c.conn = conn
	return conn, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
