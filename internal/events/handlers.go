package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/inventory"
	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
)

// Stock anomaly kinds.
const (
	AnomalyNegativeStock  = "negative_stock"
	AnomalyUnknownProduct = "unknown_product"
	AnomalySequenceGap    = "sequence_gap"
)

type PaymentMarker interface {
	MarkPaid(ctx context.Context, orderID string) (bool, error)
}

// PaymentCompletedHandler records payments through the marker, which moves
// PENDING orders to PROCESSING.
// Unparseable messages and unknown orders are dropped; storage errors are
// retried.
func PaymentCompletedHandler(marker PaymentMarker, acceptLegacy bool, logger *zap.Logger) rabbit.HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		orderID, err := ParsePaymentCompleted(body, acceptLegacy)
		if err != nil {
			logger.Warn("dropping payment completion", zap.Error(err))
			return rabbit.Discard(err)
		}

		moved, err := marker.MarkPaid(ctx, orderID)
		if errors.Is(err, order.ErrNotFound) {
			logger.Warn("payment completion for unknown order", zap.String("order_id", orderID))
			return rabbit.Discard(err)
		}
		if err != nil {
			return fmt.Errorf("mark paid %s: %w", orderID, err)
		}

		if moved {
			logger.Info("order marked paid", zap.String("order_id", orderID))
		} else {
			logger.Info("payment completion ignored, order already advanced", zap.String("order_id", orderID))
		}
		return nil
	}
}

type StockAdjuster interface {
	ApplyAdjustment(ctx context.Context, adj inventory.Adjustment) (inventory.ApplyResult, error)
}

// StockAdjustmentHandler applies StockAdjustmentRequested batches exactly once
// per consumer, recording anomalies instead of rejecting them.
func StockAdjustmentHandler(adjuster StockAdjuster, consumerName string, logger *zap.Logger, m *metrics.MessagingMetrics) rabbit.HandlerFunc {
	anomaly := func(kind string) {
		if m != nil {
			m.StockAnomaly.WithLabelValues(kind).Inc()
		}
	}

	return func(ctx context.Context, body []byte) error {
		ev, err := ParseStockAdjustment(body)
		if err != nil {
			logger.Warn("dropping stock adjustment", zap.Error(err))
			return rabbit.Discard(err)
		}

		log := logger.With(
			zap.String("event_id", ev.EventID),
			zap.String("order_id", ev.Payload.OrderID),
			zap.String("type", ev.Payload.Type),
			zap.String("reason", ev.Payload.Reason),
		)

		res, err := adjuster.ApplyAdjustment(ctx, inventory.Adjustment{
			Consumer: consumerName,
			EventID:  ev.EventID,
			OrderID:  ev.Payload.OrderID,
			Sequence: *ev.Sequence,
			Deltas:   ev.Payload.Deltas(),
		})
		if err != nil {
			return fmt.Errorf("apply adjustment %s: %w", ev.EventID, err)
		}

		if res.Duplicate {
			log.Info("duplicate stock adjustment ignored")
			return nil
		}

		if prev := res.PreviousSequence; prev > 0 && *ev.Sequence != prev+1 {
			anomaly(AnomalySequenceGap)
			log.Warn("stock adjustment sequence gap",
				zap.Int64("previous_sequence", prev),
				zap.Int64("sequence", *ev.Sequence),
			)
		}
		for _, id := range res.Missing {
			anomaly(AnomalyUnknownProduct)
			log.Warn("stock adjustment for unknown product skipped", zap.String("product_id", id))
		}
		for _, lvl := range res.Levels {
			if lvl.Stock < 0 {
				anomaly(AnomalyNegativeStock)
				log.Warn("stock went negative", zap.String("product_id", lvl.ProductID), zap.Int("stock", lvl.Stock))
			}
		}

		log.Info("stock adjustment applied", zap.Int("lines", len(res.Levels)))
		return nil
	}
}
