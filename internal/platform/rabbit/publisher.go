package rabbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/storefront/internal/platform/tracing"
)

type Message struct {
	Exchange      string
	RoutingKey    string
	MessageID     string
	CorrelationID string
	Body          []byte
	Headers       amqp.Table
}

// Publisher publishes persistent JSON messages on a confirm-mode channel and
// waits for the broker ack, so a nil error means the message is durable.
type Publisher struct {
	conn     *Connection
	topology Topology
	timeout  time.Duration

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *Connection, topology Topology, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Publisher{conn: conn, topology: topology, timeout: timeout}
}

func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(
		pubCtx,
		msg.Exchange,
		msg.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     msg.MessageID,
			CorrelationId: msg.CorrelationID,
			Timestamp:     time.Now().UTC(),
			Headers:       tracing.Inject(ctx, msg.Headers),
			Body:          msg.Body,
		},
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("%w: publish %s: %v", ErrQueueUnavailable, msg.RoutingKey, err)
	}

	acked, err := dc.WaitContext(pubCtx)
	if err != nil {
		p.reset()
		return fmt.Errorf("%w: confirm %s: %v", ErrQueueUnavailable, msg.MessageID, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked %s", ErrQueueUnavailable, msg.MessageID)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.topology.Declare(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: enable confirms: %v", ErrQueueUnavailable, err)
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}
