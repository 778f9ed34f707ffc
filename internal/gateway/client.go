package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreasstove999/storefront/internal/platform/httpx"
	"github.com/andreasstove999/storefront/internal/platform/tracing"
)

// Upstream is one backend service the gateway forwards to.
type Upstream struct {
	Name    string
	BaseURL *url.URL
	HTTP    *http.Client
}

func NewUpstream(name, baseURL string, httpClient *http.Client) (*Upstream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url %q: %w", name, baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base url %q: scheme and host required", name, baseURL)
	}
	return &Upstream{Name: name, BaseURL: u, HTTP: httpClient}, nil
}

// RoundTrip sends in to the upstream with the same method, path, query and
// body. The caller owns the response body.
func (u *Upstream) RoundTrip(ctx context.Context, in *http.Request) (*http.Response, error) {
	ctx, span := tracing.Tracer().Start(ctx, "proxy "+u.Name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	// RawPath keeps escaped separators such as %2F inside a single segment.
	target := u.BaseURL.ResolveReference(&url.URL{Path: in.URL.Path, RawPath: in.URL.RawPath, RawQuery: in.URL.RawQuery})
	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), in.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = in.ContentLength
	out.Header = upstreamHeaders(in)

	if cid := httpx.CorrelationIDFromContext(ctx); cid != "" {
		out.Header.Set(httpx.HeaderCorrelationID, cid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	span.SetAttributes(
		attribute.String("http.request.method", in.Method),
		attribute.String("url.path", in.URL.Path),
	)
	resp, err := u.HTTP.Do(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// upstreamHeaders copies the end-to-end headers of in. The bearer token stays
// at the gateway; upstreams trust the identity headers set by Authenticate.
func upstreamHeaders(in *http.Request) http.Header {
	drop := connectionHeaders(in.Header)
	out := make(http.Header, len(in.Header)+2)
	for k, vv := range in.Header {
		if isHopByHopHeader(k) || drop[http.CanonicalHeaderKey(k)] || http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}

	if in.Host != "" {
		out.Set("X-Forwarded-Host", in.Host)
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Set("X-Forwarded-Proto", proto)
	return out
}

// connectionHeaders lists the extra hop-by-hop headers named in Connection.
func connectionHeaders(h http.Header) map[string]bool {
	named := make(map[string]bool)
	for _, v := range h.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = textproto.TrimString(f); f != "" {
				named[http.CanonicalHeaderKey(f)] = true
			}
		}
	}
	return named
}

// Hop-by-hop headers (RFC 7230)
func isHopByHopHeader(k string) bool {
	switch http.CanonicalHeaderKey(k) {
	case "Connection", "Proxy-Connection", "Keep-Alive",
		"Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	default:
		return false
	}
}

type HealthResult struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Probe calls the upstream's /health with a short deadline.
func (u *Upstream) Probe(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.BaseURL.JoinPath("/health").String(), nil)
	if err != nil {
		return HealthResult{Name: u.Name, Error: err.Error()}
	}
	resp, err := u.HTTP.Do(req)
	if err != nil {
		return HealthResult{Name: u.Name, Error: err.Error()}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return HealthResult{Name: u.Name, OK: ok, StatusCode: resp.StatusCode}
}
