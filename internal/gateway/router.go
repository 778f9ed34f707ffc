package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/metrics"
)

type Deps struct {
	Logger   *zap.Logger
	Cfg      Config
	Verifier *Verifier

	Order     *Upstream
	Inventory *Upstream

	Metrics        *metrics.ServerMetrics
	MetricsHandler http.Handler
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.CorrelationID)
	r.Use(httpx.RequestLogger(d.Logger))
	r.Use(httpx.Recoverer(d.Logger))
	r.Use(CORS(d.Cfg.CORS()))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	health := &healthHandler{upstreams: []*Upstream{d.Order, d.Inventory}}
	r.Get("/health", health.gateway)
	r.Get("/health/upstreams", health.upstreamStatus)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	auth := func(a Access) func(http.Handler) http.Handler {
		return Authenticate(d.Verifier, a, d.Logger)
	}

	orders := Forward(d.Order, d.Logger)
	r.Group(func(r chi.Router) {
		r.Use(auth(Authenticated))
		r.Handle("/api/orders", orders)
		r.Handle("/api/orders/*", orders)
		r.Handle("/api/users/*", orders)
	})

	inventory := Forward(d.Inventory, d.Logger)
	r.Group(func(r chi.Router) {
		r.Use(auth(AdminOnly))
		r.Handle("/api/inventory/adjust", inventory)
		r.Handle("/api/inventory/reports/*", inventory)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth(Public))
		r.Get("/api/inventory/{productId}", inventory)
	})

	return r
}
