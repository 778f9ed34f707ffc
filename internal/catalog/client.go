package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andreasstove999/storefront/internal/order"
	"github.com/andreasstove999/storefront/internal/platform/httpx"
)

// Client reads unit prices from the inventory service so order lines carry a
// server-side price snapshot.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Retries uint64
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &Client{BaseURL: u, HTTP: httpClient, Retries: 2}, nil
}

type productResponse struct {
	ProductID string  `json:"productId"`
	Price     float64 `json:"price"`
}

func (c *Client) Price(ctx context.Context, productID string) (float64, error) {
	u := c.BaseURL.JoinPath("api", "inventory", productID)

	var price float64
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if cid := httpx.CorrelationIDFromContext(ctx); cid != "" {
			req.Header.Set(httpx.HeaderCorrelationID, cid)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", order.ErrUnknownProduct, productID))
		case resp.StatusCode >= 500:
			return fmt.Errorf("catalog returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("catalog returned %d", resp.StatusCode))
		}

		var body productResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("decode product %s: %w", productID, err))
		}
		price = body.Price
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.Retries), ctx)); err != nil {
		return 0, err
	}
	return price, nil
}
