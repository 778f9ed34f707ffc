package orderapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
)

type RouterDeps struct {
	Logger  *zap.Logger
	Metrics *metrics.ServerMetrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

func NewRouter(h *Handler, d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.CorrelationID)
	r.Use(httpx.RequestLogger(d.Logger))
	r.Use(httpx.Recoverer(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/health", h.Health)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListAllOrders)
		r.Get("/my-orders", h.ListMyOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Put("/{orderId}/request-action", h.RequestAction)
		r.Put("/{orderId}/status", h.SetStatus)
	})
	r.Get("/api/users/{userId}/orders", h.ListOrdersByUser)

	return r
}
