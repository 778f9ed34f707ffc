package gateway

import (
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
)

// Forward relays the request to u and streams the response back. Transport
// failures become 502; upstream statuses pass through untouched.
func Forward(u *Upstream, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := u.RoundTrip(r.Context(), r)
		if err != nil {
			logger.Warn("upstream request failed",
				zap.String("upstream", u.Name),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("correlation_id", httpx.CorrelationIDFromContext(r.Context())),
				zap.Error(err),
			)
			httpx.WriteError(w, http.StatusBadGateway, u.Name+" unavailable")
			return
		}
		defer resp.Body.Close()
		copyResponse(w, resp)
	}
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	drop := connectionHeaders(resp.Header)
	for k, vv := range resp.Header {
		if isHopByHopHeader(k) || drop[http.CanonicalHeaderKey(k)] {
			continue
		}
		w.Header()[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

type healthHandler struct {
	upstreams []*Upstream
}

func (h *healthHandler) gateway(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "api-gateway",
	})
}

func (h *healthHandler) upstreamStatus(w http.ResponseWriter, r *http.Request) {
	results := make([]HealthResult, len(h.upstreams))

	var wg sync.WaitGroup
	for i, u := range h.upstreams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = u.Probe(r.Context())
		}()
	}
	wg.Wait()

	status := "ok"
	for _, res := range results {
		if !res.OK {
			status = "degraded"
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"service":  "api-gateway",
		"upstream": results,
	})
}
