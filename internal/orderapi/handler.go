package orderapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/rabbit"
)

// Service is the part of *order.Service the HTTP layer drives.
type Service interface {
	Create(ctx context.Context, in order.CreateInput) (*order.Order, error)
	RequestAction(ctx context.Context, orderID, requesterID string, action order.Action, reason string) (*order.Order, error)
	SetStatus(ctx context.Context, orderID string, target order.Status, reason string) (*order.Order, error)
	Get(ctx context.Context, orderID string) (*order.Order, error)
	ListForUser(ctx context.Context, userID string) ([]order.Order, error)
	ListAll(ctx context.Context) ([]order.Order, error)
}

type Handler struct {
	svc    Service
	logger *zap.Logger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "order-service"})
}

type itemRequest struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0,lte=2147483647"`
	Price     float64 `json:"price" validate:"gte=0"`
}

type createOrderRequest struct {
	UserID      string        `json:"userId"`
	Items       []itemRequest `json:"items" validate:"required,min=1,dive"`
	TotalAmount *float64      `json:"totalAmount"`
	FullName    string        `json:"fullName" validate:"max=200"`
	Phone       string        `json:"phone" validate:"max=50"`
	City        string        `json:"city" validate:"max=100"`
	Address     string        `json:"address" validate:"max=500"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The gateway-verified identity wins; a body userId is only honoured for
	// unauthenticated internal callers or admins placing orders for a user.
	userID := req.UserID
	if id, ok := httpx.IdentityFromRequest(r); ok {
		switch {
		case userID == "":
			userID = id.UserID
		case userID != id.UserID && !id.IsAdmin():
			h.writeErr(w, r, order.ErrForbidden)
			return
		}
	}

	items := make([]order.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.svc.Create(ctx, order.CreateInput{
		UserID:      userID,
		Items:       items,
		TotalAmount: req.TotalAmount,
		Shipping: order.Shipping{
			FullName: req.FullName,
			Phone:    req.Phone,
			City:     req.City,
			Address:  req.Address,
		},
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.svc.Get(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if o.UserID != id.UserID && !id.IsAdmin() {
		h.writeErr(w, r, order.ErrNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	h.listForUser(w, r, id.UserID)
}

func (h *Handler) ListOrdersByUser(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userId")
	if userID != id.UserID && !id.IsAdmin() {
		h.writeErr(w, r, order.ErrForbidden)
		return
	}
	h.listForUser(w, r, userID)
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orders, err := h.svc.ListForUser(ctx, userID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeOrders(w, orders)
}

func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orders, err := h.svc.ListAll(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeOrders(w, orders)
}

type requestActionRequest struct {
	Action string `json:"action" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) RequestAction(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req requestActionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := order.ParseAction(req.Action)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.svc.RequestAction(ctx, chi.URLParam(r, "orderId"), id.UserID, action, req.Reason)
	if err != nil {
		// Customers see a plain validation failure; only admins get the
		// transition conflict.
		status := statusFor(err)
		if errors.Is(err, order.ErrTransitionNotAllowed) {
			status = http.StatusBadRequest
		}
		h.writeStatus(w, r, status, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

type setStatusRequest struct {
	Status       string `json:"status" validate:"required"`
	CancelReason string `json:"cancelReason"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.svc.SetStatus(ctx, chi.URLParam(r, "orderId"), target, req.CancelReason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func writeOrders(w http.ResponseWriter, orders []order.Order) {
	if orders == nil {
		orders = []order.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (httpx.Identity, bool) {
	id, ok := httpx.IdentityFromRequest(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "missing user identity")
	}
	return id, ok
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (httpx.Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return id, false
	}
	if !id.IsAdmin() {
		httpx.WriteError(w, http.StatusForbidden, order.ErrForbidden.Error())
		return id, false
	}
	return id, true
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	h.writeStatus(w, r, statusFor(err), err)
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("order request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", httpx.CorrelationIDFromContext(r.Context())),
			zap.Error(err),
		)
		msg = "internal error"
	}
	httpx.WriteError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrTransitionNotAllowed), errors.Is(err, order.ErrStatusUnchanged):
		return http.StatusConflict
	case errors.Is(err, order.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrCatalogUnavailable), errors.Is(err, rabbit.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
