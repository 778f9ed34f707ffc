package orderapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
)

type fakeService struct {
	createFunc        func(ctx context.Context, in order.CreateInput) (*order.Order, error)
	requestActionFunc func(ctx context.Context, orderID, requesterID string, action order.Action, reason string) (*order.Order, error)
	setStatusFunc     func(ctx context.Context, orderID string, target order.Status, reason string) (*order.Order, error)
	getFunc           func(ctx context.Context, orderID string) (*order.Order, error)
	listForUserFunc   func(ctx context.Context, userID string) ([]order.Order, error)
	listAllFunc       func(ctx context.Context) ([]order.Order, error)
}

func (f *fakeService) Create(ctx context.Context, in order.CreateInput) (*order.Order, error) {
	return f.createFunc(ctx, in)
}

func (f *fakeService) RequestAction(ctx context.Context, orderID, requesterID string, action order.Action, reason string) (*order.Order, error) {
	return f.requestActionFunc(ctx, orderID, requesterID, action, reason)
}

func (f *fakeService) SetStatus(ctx context.Context, orderID string, target order.Status, reason string) (*order.Order, error) {
	return f.setStatusFunc(ctx, orderID, target, reason)
}

func (f *fakeService) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return f.getFunc(ctx, orderID)
}

func (f *fakeService) ListForUser(ctx context.Context, userID string) ([]order.Order, error) {
	return f.listForUserFunc(ctx, userID)
}

func (f *fakeService) ListAll(ctx context.Context) ([]order.Order, error) {
	return f.listAllFunc(ctx)
}

func newRouter(svc Service) http.Handler {
	return NewRouter(NewHandler(svc, zap.NewNop()), RouterDeps{
		Logger:  zap.NewNop(),
		Metrics: metrics.NewServerMetrics(prometheus.NewRegistry(), "order-service"),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, identity *httpx.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set(httpx.HeaderUserID, identity.UserID)
		req.Header.Set(httpx.HeaderUserRole, identity.Role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

var (
	customer = &httpx.Identity{UserID: "user-1", Role: "CUSTOMER"}
	admin    = &httpx.Identity{UserID: "admin-1", Role: httpx.RoleAdmin}
)

func TestCreateOrder(t *testing.T) {
	var got order.CreateInput
	svc := &fakeService{createFunc: func(ctx context.Context, in order.CreateInput) (*order.Order, error) {
		got = in
		return &order.Order{ID: "o-1", UserID: in.UserID, Status: order.StatusPending, Items: in.Items, TotalAmount: 20}, nil
	}}

	body := `{"items":[{"productId":"p1","quantity":2,"price":10}],"totalAmount":999,"city":"Oslo"}`
	rec := do(t, newRouter(svc), http.MethodPost, "/api/orders", body, customer)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-1", got.UserID)
	require.NotNil(t, got.TotalAmount)
	assert.Equal(t, 999.0, *got.TotalAmount)
	assert.Equal(t, "Oslo", got.Shipping.City)

	var o order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestCreateOrder_RejectsForeignUserID(t *testing.T) {
	svc := &fakeService{createFunc: func(ctx context.Context, in order.CreateInput) (*order.Order, error) {
		t.Fatal("create must not be called")
		return nil, nil
	}}

	body := `{"userId":"someone-else","items":[{"productId":"p1","quantity":1,"price":1}]}`
	rec := do(t, newRouter(svc), http.MethodPost, "/api/orders", body, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateOrder_Validation(t *testing.T) {
	svc := &fakeService{createFunc: func(ctx context.Context, in order.CreateInput) (*order.Order, error) {
		return nil, order.ErrMissingUser
	}}
	router := newRouter(svc)

	tests := []struct {
		name string
		body string
	}{
		{"no items", `{"items":[]}`},
		{"zero quantity", `{"items":[{"productId":"p1","quantity":0,"price":1}]}`},
		{"negative price", `{"items":[{"productId":"p1","quantity":1,"price":-1}]}`},
		{"quantity past int32", `{"items":[{"productId":"p1","quantity":2147483648,"price":1}]}`},
		{"bad json", `{"items":`},
		{"service validation", `{"items":[{"productId":"p1","quantity":1,"price":1}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/orders", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, errorBody(t, rec))
		})
	}
}

func TestGetOrder_HidesForeignOrders(t *testing.T) {
	svc := &fakeService{getFunc: func(ctx context.Context, orderID string) (*order.Order, error) {
		return &order.Order{ID: orderID, UserID: "user-2", CreatedAt: time.Unix(0, 0)}, nil
	}}
	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/orders/o-1", "", customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/orders/o-1", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/orders/o-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListOrders(t *testing.T) {
	var listedFor []string
	svc := &fakeService{
		listForUserFunc: func(ctx context.Context, userID string) ([]order.Order, error) {
			listedFor = append(listedFor, userID)
			return nil, nil
		},
		listAllFunc: func(ctx context.Context) ([]order.Order, error) {
			return []order.Order{{ID: "o-1"}, {ID: "o-2"}}, nil
		},
	}
	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/orders/my-orders", "", customer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/users/user-1/orders", "", customer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/user-2/orders", "", customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/users/user-2/orders", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"user-1", "user-1", "user-2"}, listedFor)

	rec = do(t, router, http.MethodGet, "/api/orders", "", customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/orders", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []order.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestRequestAction(t *testing.T) {
	var gotAction order.Action
	var gotRequester string
	svc := &fakeService{requestActionFunc: func(ctx context.Context, orderID, requesterID string, action order.Action, reason string) (*order.Order, error) {
		gotAction, gotRequester = action, requesterID
		if len(strings.TrimSpace(reason)) < order.MinReasonLength {
			return nil, order.ErrReasonTooShort
		}
		return &order.Order{ID: orderID, UserID: requesterID, Status: order.StatusCancelRequested, CancelReason: reason}, nil
	}}
	router := newRouter(svc)

	rec := do(t, router, http.MethodPut, "/api/orders/o-1/request-action", `{"action":"cancel","reason":"changed my mind"}`, customer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ActionCancel, gotAction)
	assert.Equal(t, "user-1", gotRequester)

	rec = do(t, router, http.MethodPut, "/api/orders/o-1/request-action", `{"action":"CANCEL","reason":"meh"}`, customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/orders/o-1/request-action", `{"action":"REFUND","reason":"changed my mind"}`, customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestAction_IllegalTransitionIsBadRequest(t *testing.T) {
	svc := &fakeService{requestActionFunc: func(ctx context.Context, orderID, requesterID string, action order.Action, reason string) (*order.Order, error) {
		switch orderID {
		case "pending":
			return nil, fmt.Errorf("%w: PENDING -> RETURN_REQUESTED", order.ErrTransitionNotAllowed)
		case "someone-else":
			return nil, order.ErrNotFound
		}
		return nil, errors.New("connection reset")
	}}
	router := newRouter(svc)

	rec := do(t, router, http.MethodPut, "/api/orders/pending/request-action", `{"action":"RETURN","reason":"does not fit"}`, customer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "PENDING")

	rec = do(t, router, http.MethodPut, "/api/orders/someone-else/request-action", `{"action":"CANCEL","reason":"changed my mind"}`, customer)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/orders/broken/request-action", `{"action":"CANCEL","reason":"changed my mind"}`, customer)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetStatus(t *testing.T) {
	svc := &fakeService{setStatusFunc: func(ctx context.Context, orderID string, target order.Status, reason string) (*order.Order, error) {
		switch target {
		case order.StatusShipped:
			return nil, fmt.Errorf("%w: PENDING -> SHIPPED", order.ErrTransitionNotAllowed)
		case order.StatusPending:
			return nil, order.ErrStatusUnchanged
		case order.StatusDelivered:
			return nil, order.ErrNotFound
		case order.StatusReturned:
			return nil, fmt.Errorf("write outbox: %w", rabbit.ErrQueueUnavailable)
		case order.StatusProcessing:
			return nil, errors.New("connection reset")
		}
		return &order.Order{ID: orderID, Status: target, CancelReason: reason}, nil
	}}
	router := newRouter(svc)

	tests := []struct {
		body string
		want int
	}{
		{`{"status":"CANCELLED","cancelReason":"out of stock"}`, http.StatusOK},
		{`{"status":"SHIPPED"}`, http.StatusConflict},
		{`{"status":"PENDING"}`, http.StatusConflict},
		{`{"status":"DELIVERED"}`, http.StatusNotFound},
		{`{"status":"RETURNED"}`, http.StatusServiceUnavailable},
		{`{"status":"PROCESSING"}`, http.StatusInternalServerError},
		{`{"status":"LOST"}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, "/api/orders/o-1/status", tc.body, admin)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := do(t, router, http.MethodPut, "/api/orders/o-1/status", `{"status":"CANCELLED"}`, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusFor_InternalErrorsAreMasked(t *testing.T) {
	svc := &fakeService{getFunc: func(ctx context.Context, orderID string) (*order.Order, error) {
		return nil, errors.New("pq: password authentication failed")
	}}
	rec := do(t, newRouter(svc), http.MethodGet, "/api/orders/o-1", "", customer)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", errorBody(t, rec))
}

func TestHealth(t *testing.T) {
	rec := do(t, newRouter(&fakeService{}), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(httpx.HeaderCorrelationID))
}
