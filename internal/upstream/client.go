// Package upstream holds the per-key adapters that talk to the three price
// oracles (crypto spot, FX rate, market-data vendor); WrapWithBreaker puts a
// circuit breaker around any of them (cmd/pricecache wraps the market-data
// adapters). Retry/backoff across attempts is the fetcher's job
// (internal/fetch); an adapter's Fetch is always exactly one HTTP round
// trip.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// httpGetter is a minimal single-attempt HTTP client. The fetcher owns
// retries, not the transport.
type httpGetter struct {
	client    *http.Client
	userAgent string
}

func newHTTPGetter(timeout time.Duration) *httpGetter {
	return &httpGetter{
		client:    &http.Client{Timeout: timeout},
		userAgent: "pricecache/1.0",
	}
}

func (g *httpGetter) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return g.client.Do(req)
}
