package inventoryapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/inventory"
	"github.com/andreasstove999/storefront/internal/platform/httpx"
)

const defaultCriticalThreshold = 10

// Store is the part of the inventory repository the HTTP layer needs.
type Store interface {
	Get(ctx context.Context, productID string) (inventory.Product, error)
	SetStock(ctx context.Context, u inventory.StockUpdate) (inventory.Product, error)
	CriticalStock(ctx context.Context, threshold int) ([]inventory.Product, error)
}

type Handler struct {
	store  Store
	logger *zap.Logger
}

func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "inventory-service"})
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.store.Get(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "product not found")
			return
		}
		h.internalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type adjustRequest struct {
	ProductID string   `json:"productId" validate:"required"`
	Stock     *int     `json:"stock" validate:"required,gte=0"`
	Name      *string  `json:"name" validate:"omitempty,max=200"`
	Price     *float64 `json:"price" validate:"omitempty,gte=0"`
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.store.SetStock(ctx, inventory.StockUpdate{
		ProductID: req.ProductID,
		Stock:     *req.Stock,
		Name:      req.Name,
		Price:     req.Price,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.logger.Info("stock set", zap.String("product_id", p.ID), zap.Int("stock", p.Stock))
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) CriticalStock(w http.ResponseWriter, r *http.Request) {
	threshold := defaultCriticalThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "threshold must be a positive integer")
			return
		}
		threshold = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	products, err := h.store.CriticalStock(ctx, threshold)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if products == nil {
		products = []inventory.Product{}
	}
	httpx.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("inventory request failed", zap.String("path", r.URL.Path), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}
