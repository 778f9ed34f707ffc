package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/outbox"
	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/sequence"
)

// OutboxWriter turns stock adjustments into StockAdjustmentRequested outbox
// records, drawing the per-order sequence in the caller's transaction.
type OutboxWriter struct {
	sequences *sequence.Repository
	producer  string
	now       func() time.Time
}

func NewOutboxWriter(sequences *sequence.Repository, producer string) *OutboxWriter {
	return &OutboxWriter{
		sequences: sequences,
		producer:  producer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWriter) WriteAdjustment(ctx context.Context, exec order.Execer, adj order.StockAdjustment) error {
	seq, err := w.sequences.WithStore(exec).NextSequence(ctx, adj.OrderID)
	if err != nil {
		return err
	}

	meta := EnvelopeMetadata{CorrelationID: httpx.CorrelationIDFromContext(ctx)}
	ev := NewStockAdjustmentEvent(adj, seq, w.producer, meta, w.now())
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", StockAdjustmentEventName, err)
	}

	return outbox.Insert(ctx, exec, outbox.Record{
		EventID:    ev.EventID,
		Exchange:   EventsExchange,
		RoutingKey: StockAdjustmentRoutingKey,
		Payload:    body,
	})
}
