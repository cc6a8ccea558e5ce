package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/pricecache/internal/model"
)

// FXAdapter fetches a single exchange rate from an exchangerate.host-shaped
// latest-rates endpoint and yields a Scalar.
type FXAdapter struct {
	http    *httpGetter
	baseURL string // e.g. https://api.exchangerate.host/latest
	base    string // e.g. "EUR"
	symbol  string // e.g. "USD"
}

func NewFXAdapter(baseURL, base, symbol string, timeout time.Duration) *FXAdapter {
	return &FXAdapter{
		http:    newHTTPGetter(timeout),
		baseURL: baseURL,
		base:    base,
		symbol:  symbol,
	}
}

func (a *FXAdapter) Key() model.Key           { return model.KeyEUR }
func (a *FXAdapter) Upstream() model.Upstream { return model.UpstreamFX }

func (a *FXAdapter) Fetch(ctx context.Context) (model.Value, error) {
	url := fmt.Sprintf("%s?base=%s&symbols=%s", a.baseURL, a.base, a.symbol)

	resp, err := a.http.Get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fx: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx: status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fx: decode: %w", err)
	}

	rate, ok := body.Rates[a.symbol]
	if !ok {
		return nil, fmt.Errorf("fx: symbol %q not present in response", a.symbol)
	}

	return model.Scalar(rate), nil
}
