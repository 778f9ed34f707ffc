package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceLookup resolves the current unit price of a product. Implementations
// return an error wrapping ErrUnknownProduct for products that do not exist.
type PriceLookup interface {
	Price(ctx context.Context, productID string) (float64, error)
}

type CreateInput struct {
	UserID      string
	Items       []Item
	TotalAmount *float64
	Shipping    Shipping
}

type Service struct {
	repo     Repository
	prices   PriceLookup
	logger   *zap.Logger
	now      func() time.Time
	onCommit func()
}

type Option func(*Service)

// WithCommitHook registers fn to run after every commit that wrote a stock
// adjustment. The order service uses it to wake the outbox relay.
func WithCommitHook(fn func()) Option {
	return func(s *Service) { s.onCommit = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the order state machine. prices may be nil, in which case
// the unit price submitted with each line is trusted.
func NewService(repo Repository, prices PriceLookup, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		prices:   prices,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		onCommit: func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create places a PENDING order and, atomically with it, the DECREASE batch
// for all of its lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, ErrMissingUser
	}
	if len(in.Items) == 0 {
		return nil, ErrEmptyItems
	}

	items := make([]Item, 0, len(in.Items))
	total := decimal.Zero
	for i, it := range in.Items {
		it.ProductID = strings.TrimSpace(it.ProductID)
		switch {
		case it.ProductID == "":
			return nil, fmt.Errorf("%w: item %d: productId required", ErrValidation, i)
		case it.Quantity <= 0:
			return nil, fmt.Errorf("%w: item %d: quantity must be positive", ErrValidation, i)
		case it.Quantity > math.MaxInt32:
			return nil, fmt.Errorf("%w: item %d: quantity too large", ErrValidation, i)
		case it.Price < 0:
			return nil, fmt.Errorf("%w: item %d: price must not be negative", ErrValidation, i)
		}

		if s.prices != nil {
			price, err := s.prices.Price(ctx, it.ProductID)
			if err != nil {
				if errors.Is(err, ErrUnknownProduct) {
					return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
				}
				return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
			}
			it.Price = price
		}

		total = total.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
		items = append(items, it)
	}

	amount, _ := total.Round(2).Float64()
	if in.TotalAmount != nil && !decimal.NewFromFloat(*in.TotalAmount).Round(2).Equal(total.Round(2)) {
		s.logger.Info("client total ignored",
			zap.String("user_id", userID),
			zap.Float64("client_total", *in.TotalAmount),
			zap.Float64("computed_total", amount),
		)
	}

	now := s.now()
	o := &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      StatusPending,
		Items:       items,
		TotalAmount: amount,
		Shipping:    in.Shipping,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	adj := StockAdjustment{
		OrderID: o.ID,
		Type:    AdjustmentDecrease,
		Reason:  ReasonOrderCreated,
		Items:   items,
	}

	if err := s.repo.Create(ctx, o, adj); err != nil {
		return nil, err
	}
	s.onCommit()

	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("lines", len(o.Items)),
		zap.Float64("total", o.TotalAmount),
	)
	return o, nil
}

// RequestAction files a customer cancel or return request. Orders owned by
// someone else are reported as not found.
func (s *Service) RequestAction(ctx context.Context, orderID, requesterID string, action Action, reason string) (*Order, error) {
	if !validID(orderID) {
		return nil, ErrNotFound
	}

	o, err := s.repo.Mutate(ctx, orderID, func(o *Order) (Change, error) {
		if o.UserID != requesterID {
			return Change{}, ErrNotFound
		}
		return o.RequestChange(action, reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order action requested",
		zap.String("order_id", o.ID),
		zap.String("action", string(action)),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}

// SetStatus applies an admin status change.
func (s *Service) SetStatus(ctx context.Context, orderID string, target Status, reason string) (*Order, error) {
	if !validID(orderID) {
		return nil, ErrNotFound
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	var from Status
	o, err := s.repo.Mutate(ctx, orderID, func(o *Order) (Change, error) {
		from = o.Status
		return o.AdminChange(target, reason)
	})
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		s.onCommit()
	}

	s.logger.Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
	)
	return o, nil
}

// MarkPaid reacts to a payment completion. It reports whether the order moved.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	if !validID(orderID) {
		return false, ErrNotFound
	}
	return s.repo.MarkPaid(ctx, orderID)
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	if !validID(orderID) {
		return nil, ErrNotFound
	}
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.repo.ListAll(ctx)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
