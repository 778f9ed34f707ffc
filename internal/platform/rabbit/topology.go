package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology is the set of exchanges, queues and bindings a service relies on.
// Declaring it is idempotent, so publishers and consumers both do it on every
// fresh channel.
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	Queues             []QueueSpec
}

type QueueSpec struct {
	Name        string
	RoutingKeys []string
	// DeliveryLimit > 0 declares a quorum queue that dead-letters a message
	// after that many redeliveries.
	DeliveryLimit int
}

func (q QueueSpec) DeadLetterQueue() string {
	return q.Name + ".dlq"
}

func (q QueueSpec) arguments(dlx string) amqp.Table {
	if q.DeliveryLimit <= 0 {
		return nil
	}
	args := amqp.Table{
		"x-queue-type":     "quorum",
		"x-delivery-limit": q.DeliveryLimit,
	}
	if dlx != "" {
		args["x-dead-letter-exchange"] = dlx
		args["x-dead-letter-routing-key"] = q.Name
	}
	return args
}

func (t Topology) Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if t.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
		}
	}

	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, q.arguments(t.DeadLetterExchange)); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		for _, key := range q.RoutingKeys {
			if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", q.Name, key, err)
			}
		}

		if t.DeadLetterExchange == "" || q.DeliveryLimit <= 0 {
			continue
		}
		dlq := q.DeadLetterQueue()
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, q.Name, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", dlq, err)
		}
	}
	return nil
}
