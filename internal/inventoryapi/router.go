package inventoryapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
)

func NewRouter(h *Handler, logger *zap.Logger, m *metrics.ServerMetrics, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.CorrelationID)
	r.Use(httpx.RequestLogger(logger))
	r.Use(httpx.Recoverer(logger))
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", h.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/reports/critical-stock", h.CriticalStock)
		r.Post("/adjust", h.AdjustStock)
		r.Get("/{productId}", h.GetAvailability)
	})

	return r
}
