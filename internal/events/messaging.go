package events

import "github.com/andreasstove999/storefront/internal/platform/rabbit"

const (
	EventsExchange     = "storefront.events"
	DeadLetterExchange = "storefront.dlx"

	StockAdjustmentRoutingKey  = "stock.adjustment.v1"
	PaymentCompletedRoutingKey = "payment.completed.v1"
	// LegacyPaymentCompletedQueue is the classic queue older payment producers
	// publish to through the default exchange.
	LegacyPaymentCompletedQueue = "payment_completed"

	OrderServiceName     = "order-service"
	InventoryServiceName = "inventory-service"

	// DeliveryLimit is shared by every declaration of a queue; quorum queue
	// arguments must match across services.
	DeliveryLimit = 5
)

var (
	StockAdjustmentQueue  = serviceQueue(InventoryServiceName, StockAdjustmentRoutingKey)
	PaymentCompletedQueue = serviceQueue(OrderServiceName, PaymentCompletedRoutingKey)
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func stockAdjustmentQueueSpec() rabbit.QueueSpec {
	return rabbit.QueueSpec{
		Name:          StockAdjustmentQueue,
		RoutingKeys:   []string{StockAdjustmentRoutingKey},
		DeliveryLimit: DeliveryLimit,
	}
}

// OrderServiceTopology also declares the inventory queue so adjustments
// published before the inventory service first starts are retained. With
// legacyPayments the plain payment_completed queue is declared too; it has no
// bindings and no arguments so it matches the declaration of older producers.
func OrderServiceTopology(legacyPayments bool) rabbit.Topology {
	queues := []rabbit.QueueSpec{
		{
			Name:          PaymentCompletedQueue,
			RoutingKeys:   []string{PaymentCompletedRoutingKey},
			DeliveryLimit: DeliveryLimit,
		},
		stockAdjustmentQueueSpec(),
	}
	if legacyPayments {
		queues = append(queues, rabbit.QueueSpec{Name: LegacyPaymentCompletedQueue})
	}
	return rabbit.Topology{
		Exchange:           EventsExchange,
		DeadLetterExchange: DeadLetterExchange,
		Queues:             queues,
	}
}

func InventoryTopology() rabbit.Topology {
	return rabbit.Topology{
		Exchange:           EventsExchange,
		DeadLetterExchange: DeadLetterExchange,
		Queues:             []rabbit.QueueSpec{stockAdjustmentQueueSpec()},
	}
}
