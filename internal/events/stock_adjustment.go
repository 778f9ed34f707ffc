package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/andreasstove999/storefront/internal/inventory"
	"github.com/andreasstove999/storefront/internal/order"
)

const (
	StockAdjustmentEventName    = "StockAdjustmentRequested"
	StockAdjustmentEventVersion = 1
	stockAdjustmentSchema       = "storefront.stock-adjustment.v1"
)

type StockAdjustmentLine struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type StockAdjustmentRequested struct {
	OrderID string                `json:"orderId" validate:"required"`
	Type    string                `json:"type" validate:"oneof=INCREASE DECREASE"`
	Reason  string                `json:"reason" validate:"oneof=ORDER_CREATED ORDER_CANCELLED ORDER_RETURNED"`
	Items   []StockAdjustmentLine `json:"items" validate:"required,min=1,dive"`
}

// Deltas converts the batch into signed stock changes.
func (p StockAdjustmentRequested) Deltas() []inventory.Delta {
	sign := 1
	if p.Type == string(order.AdjustmentDecrease) {
		sign = -1
	}
	out := make([]inventory.Delta, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, inventory.Delta{ProductID: it.ProductID, Change: sign * it.Quantity})
	}
	return out
}

func NewStockAdjustmentEvent(adj order.StockAdjustment, seq int64, producer string, meta EnvelopeMetadata, occurredAt time.Time) EventEnvelope[StockAdjustmentRequested] {
	items := make([]StockAdjustmentLine, 0, len(adj.Items))
	for _, it := range adj.Items {
		items = append(items, StockAdjustmentLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	payload := StockAdjustmentRequested{
		OrderID: adj.OrderID,
		Type:    string(adj.Type),
		Reason:  string(adj.Reason),
		Items:   items,
	}
	return newEnvelope(StockAdjustmentEventName, StockAdjustmentEventVersion, stockAdjustmentSchema,
		producer, adj.OrderID, seq, meta, payload, occurredAt)
}

// ParseStockAdjustment decodes and validates a v1 stock adjustment. Every
// failure wraps ErrMalformedMessage.
func ParseStockAdjustment(body []byte) (EventEnvelope[StockAdjustmentRequested], error) {
	var ev EventEnvelope[StockAdjustmentRequested]
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("%w: decode %s: %v", ErrMalformedMessage, StockAdjustmentEventName, err)
	}
	if err := ev.Validate(StockAdjustmentEventName, StockAdjustmentEventVersion); err != nil {
		return ev, err
	}
	if ev.PartitionKey != ev.Payload.OrderID {
		return ev, fmt.Errorf("%w: partitionKey %q does not match orderId %q", ErrMalformedMessage, ev.PartitionKey, ev.Payload.OrderID)
	}
	if ev.Sequence == nil || *ev.Sequence <= 0 {
		return ev, fmt.Errorf("%w: missing sequence", ErrMalformedMessage)
	}
	return ev, nil
}
