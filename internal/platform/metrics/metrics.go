package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Consumer outcomes.
const (
	OutcomeAck     = "ack"
	OutcomeDropped = "dropped"
	OutcomeRetry   = "retry"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode the label space.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		handler := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				handler = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// MessagingMetrics covers the broker side of a service: consumed deliveries,
// outbox publishes and stock anomalies seen while applying adjustments.
type MessagingMetrics struct {
	Consumed      *prometheus.CounterVec
	Published     *prometheus.CounterVec
	OutboxBacklog prometheus.Gauge
	StockAnomaly  *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer, service string) *MessagingMetrics {
	m := &MessagingMetrics{
		Consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem(service),
			Name:      "messages_consumed_total",
			Help:      "Deliveries handled per queue and outcome.",
		}, []string{"queue", "outcome"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem(service),
			Name:      "messages_published_total",
			Help:      "Outbox publishes per routing key and result.",
		}, []string{"routing_key", "result"}),
		OutboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem(service),
			Name:      "outbox_backlog",
			Help:      "Unpublished outbox rows seen by the last relay pass.",
		}),
		StockAnomaly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem(service),
			Name:      "stock_anomalies_total",
			Help:      "Adjustment lines that hit an unknown product or pushed stock below zero.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Consumed, m.Published, m.OutboxBacklog, m.StockAnomaly)
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func subsystem(service string) string {
	out := make([]rune, 0, len(service))
	for _, r := range service {
		if r == '-' || r == '.' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
