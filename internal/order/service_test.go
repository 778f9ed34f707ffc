package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memRepo applies mutations to in-memory orders the way the SQL repository
// does: the change and its stock adjustment land together or not at all.
type memRepo struct {
	mu          sync.Mutex
	orders      map[string]*Order
	adjustments []StockAdjustment
	createErr   error
	markPaidErr error
}

func newMemRepo() *memRepo {
	return &memRepo{orders: map[string]*Order{}}
}

func (m *memRepo) Create(ctx context.Context, o *Order, adj StockAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.orders[o.ID] = &cp
	m.adjustments = append(m.adjustments, adj)
	return nil
}

func (m *memRepo) Mutate(ctx context.Context, orderID string, fn Mutation) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *stored
	change, err := fn(&cp)
	if err != nil {
		return nil, err
	}
	cp.apply(change, time.Now())
	if change.Adjustment != nil {
		m.adjustments = append(m.adjustments, *change.Adjustment)
	}
	m.orders[orderID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markPaidErr != nil {
		return false, m.markPaidErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return false, ErrNotFound
	}
	switch {
	case o.Status == StatusPending:
		o.Status = StatusProcessing
	case o.Status == StatusCancelRequested && o.RequestedFrom == StatusPending:
		o.RequestedFrom = StatusProcessing
	default:
		return false, nil
	}
	return true, nil
}

func (m *memRepo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return nil, errors.New("not used")
}

func (m *memRepo) ListAll(ctx context.Context) ([]Order, error) {
	return nil, errors.New("not used")
}

func (m *memRepo) put(o Order) {
	m.orders[o.ID] = &o
}

type fakePrices map[string]float64

func (f fakePrices) Price(ctx context.Context, productID string) (float64, error) {
	p, ok := f[productID]
	if !ok {
		return 0, fmt.Errorf("lookup %s: %w", productID, ErrUnknownProduct)
	}
	return p, nil
}

type failingPrices struct{}

func (failingPrices) Price(ctx context.Context, productID string) (float64, error) {
	return 0, errors.New("connection refused")
}

func newTestService(repo Repository, prices PriceLookup, commits *int) *Service {
	return NewService(repo, prices, zap.NewNop(), WithCommitHook(func() { *commits++ }))
}

func TestServiceCreate_RecomputesTotalAndWritesOneDecrease(t *testing.T) {
	repo := newMemRepo()
	commits := 0
	svc := newTestService(repo, nil, &commits)

	clientTotal := 999.0
	o, err := svc.Create(context.Background(), CreateInput{
		UserID:      "u1",
		Items:       []Item{{ProductID: "P1", Quantity: 2, Price: 10}},
		TotalAmount: &clientTotal,
		Shipping:    Shipping{FullName: "Ada Lovelace", City: "London"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 20.0, o.TotalAmount)
	assert.Equal(t, "Ada Lovelace", o.FullName)
	_, err = uuid.Parse(o.ID)
	require.NoError(t, err)

	require.Len(t, repo.adjustments, 1)
	adj := repo.adjustments[0]
	assert.Equal(t, o.ID, adj.OrderID)
	assert.Equal(t, AdjustmentDecrease, adj.Type)
	assert.Equal(t, ReasonOrderCreated, adj.Reason)
	assert.Equal(t, []Item{{ProductID: "P1", Quantity: 2, Price: 10}}, adj.Items)
	assert.Equal(t, 1, commits)
}

func TestServiceCreate_DecimalTotal(t *testing.T) {
	svc := newTestService(newMemRepo(), nil, new(int))

	o, err := svc.Create(context.Background(), CreateInput{
		UserID: "u1",
		Items: []Item{
			{ProductID: "P1", Quantity: 3, Price: 0.1},
			{ProductID: "P2", Quantity: 1, Price: 19.99},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.29, o.TotalAmount)
}

func TestServiceCreate_UsesCatalogPriceSnapshot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, fakePrices{"P1": 12.5}, new(int))

	o, err := svc.Create(context.Background(), CreateInput{
		UserID: "u1",
		Items:  []Item{{ProductID: "P1", Quantity: 2, Price: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 12.5, o.Items[0].Price)
	assert.Equal(t, 25.0, o.TotalAmount)

	_, err = svc.Create(context.Background(), CreateInput{
		UserID: "u1",
		Items:  []Item{{ProductID: "ghost", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrUnknownProduct)
	require.ErrorIs(t, err, ErrValidation)

	svc = newTestService(repo, failingPrices{}, new(int))
	_, err = svc.Create(context.Background(), CreateInput{
		UserID: "u1",
		Items:  []Item{{ProductID: "P1", Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrCatalogUnavailable)
}

func TestServiceCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{name: "missing user", in: CreateInput{Items: []Item{{ProductID: "P1", Quantity: 1}}}, want: ErrMissingUser},
		{name: "blank user", in: CreateInput{UserID: "  ", Items: []Item{{ProductID: "P1", Quantity: 1}}}, want: ErrMissingUser},
		{name: "no items", in: CreateInput{UserID: "u1"}, want: ErrEmptyItems},
		{name: "zero quantity", in: CreateInput{UserID: "u1", Items: []Item{{ProductID: "P1", Quantity: 0}}}, want: ErrValidation},
		{name: "quantity past int32", in: CreateInput{UserID: "u1", Items: []Item{{ProductID: "P1", Quantity: math.MaxInt32 + 1}}}, want: ErrValidation},
		{name: "missing product", in: CreateInput{UserID: "u1", Items: []Item{{Quantity: 1}}}, want: ErrValidation},
		{name: "negative price", in: CreateInput{UserID: "u1", Items: []Item{{ProductID: "P1", Quantity: 1, Price: -1}}}, want: ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemRepo()
			commits := 0
			svc := newTestService(repo, nil, &commits)

			_, err := svc.Create(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, repo.orders)
			assert.Empty(t, repo.adjustments)
			assert.Zero(t, commits)
		})
	}
}

func TestServiceCreate_PersistenceErrorPropagates(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("insert order: connection reset")
	commits := 0
	svc := newTestService(repo, nil, &commits)

	_, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Items: []Item{{ProductID: "P1", Quantity: 1}}})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrValidation))
	assert.Zero(t, commits)
}

func TestService_CancelRequestThenApprove(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	commits := 0
	svc := newTestService(repo, nil, &commits)

	o, err := svc.Create(ctx, CreateInput{UserID: "u1", Items: []Item{{ProductID: "P1", Quantity: 2, Price: 10}}})
	require.NoError(t, err)

	requested, err := svc.RequestAction(ctx, o.ID, "u1", ActionCancel, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelRequested, requested.Status)
	assert.Equal(t, "changed my mind", requested.CancelReason)
	require.Len(t, repo.adjustments, 1, "a request alone must not touch stock")

	cancelled, err := svc.SetStatus(ctx, o.ID, StatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.Len(t, repo.adjustments, 2)

	inc := repo.adjustments[1]
	assert.Equal(t, AdjustmentIncrease, inc.Type)
	assert.Equal(t, repo.adjustments[0].Items, inc.Items)

	_, err = svc.SetStatus(ctx, o.ID, StatusCancelled, "")
	require.ErrorIs(t, err, ErrStatusUnchanged)
	assert.Len(t, repo.adjustments, 2, "re-cancelling must not credit stock twice")
	assert.Equal(t, 2, commits)
}

func TestService_CreateThenAdminCancelNetsToZero(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newTestService(repo, nil, new(int))

	o, err := svc.Create(ctx, CreateInput{UserID: "u1", Items: []Item{
		{ProductID: "P1", Quantity: 2, Price: 10},
		{ProductID: "P2", Quantity: 5, Price: 1},
	}})
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, o.ID, StatusCancelled, "customer called")
	require.NoError(t, err)

	net := map[string]int{}
	for _, adj := range repo.adjustments {
		sign := 1
		if adj.Type == AdjustmentDecrease {
			sign = -1
		}
		for _, it := range adj.Items {
			net[it.ProductID] += sign * it.Quantity
		}
	}
	assert.Equal(t, map[string]int{"P1": 0, "P2": 0}, net)
}

func TestServiceRequestAction_NonOwnerSeesNotFound(t *testing.T) {
	repo := newMemRepo()
	id := uuid.NewString()
	repo.put(Order{ID: id, UserID: "owner", Status: StatusPending})
	svc := newTestService(repo, nil, new(int))

	_, err := svc.RequestAction(context.Background(), id, "intruder", ActionCancel, "changed my mind")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StatusPending, repo.orders[id].Status)
}

func TestServiceSetStatus_Errors(t *testing.T) {
	repo := newMemRepo()
	id := uuid.NewString()
	repo.put(Order{ID: id, UserID: "u1", Status: StatusDelivered})
	svc := newTestService(repo, nil, new(int))
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, uuid.NewString(), StatusShipped, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SetStatus(ctx, "not-a-uuid", StatusShipped, "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SetStatus(ctx, id, StatusCancelled, "")
	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	require.False(t, errors.Is(err, ErrNotFound))

	_, err = svc.SetStatus(ctx, id, Status("LOST"), "")
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Empty(t, repo.adjustments)
}

func TestServiceMarkPaid_IsIdempotent(t *testing.T) {
	repo := newMemRepo()
	id := uuid.NewString()
	repo.put(Order{ID: id, UserID: "u1", Status: StatusPending})
	svc := newTestService(repo, nil, new(int))
	ctx := context.Background()

	moved, err := svc.MarkPaid(ctx, id)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, StatusProcessing, repo.orders[id].Status)

	moved, err = svc.MarkPaid(ctx, id)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, StatusProcessing, repo.orders[id].Status)

	_, err = svc.MarkPaid(ctx, "O1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceMarkPaid_DuringCancelRequestSurvivesRejection(t *testing.T) {
	repo := newMemRepo()
	id := uuid.NewString()
	repo.put(Order{ID: id, UserID: "u1", Status: StatusCancelRequested, RequestedFrom: StatusPending, CancelReason: "changed my mind"})
	svc := newTestService(repo, nil, new(int))
	ctx := context.Background()

	moved, err := svc.MarkPaid(ctx, id)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, StatusCancelRequested, repo.orders[id].Status)
	assert.Equal(t, StatusProcessing, repo.orders[id].RequestedFrom)

	_, err = svc.SetStatus(ctx, id, StatusPending, "")
	require.ErrorIs(t, err, ErrTransitionNotAllowed)

	o, err := svc.SetStatus(ctx, id, StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Empty(t, o.CancelReason)
}

func TestServiceGet(t *testing.T) {
	repo := newMemRepo()
	id := uuid.NewString()
	repo.put(Order{ID: id, UserID: "u1", Status: StatusShipped})
	svc := newTestService(repo, nil, new(int))

	o, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)

	_, err = svc.Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}
