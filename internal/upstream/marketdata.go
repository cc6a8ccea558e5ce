package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/pricecache/internal/fetcherr"
	"github.com/sawpanic/pricecache/internal/model"
)

// marketDataRateLimitStatus is the vendor's own rate-limit status code,
// treated as an upstream transient retriable under backoff, just like a
// transport failure or a 5xx.
const marketDataRateLimitStatus = http.StatusTooManyRequests

// MarketDataAdapter fetches one ticker quote from the quota-bearing
// market-data vendor. A missing credential is a ConfigError raised before
// any request is attempted.
type MarketDataAdapter struct {
	http       *httpGetter
	baseURL    string
	ticker     string
	credential string
}

func NewMarketDataAdapter(baseURL, ticker, credential string, timeout time.Duration) *MarketDataAdapter {
	return &MarketDataAdapter{
		http:       newHTTPGetter(timeout),
		baseURL:    baseURL,
		ticker:     ticker,
		credential: credential,
	}
}

func (a *MarketDataAdapter) Key() model.Key           { return model.Key(a.ticker) }
func (a *MarketDataAdapter) Upstream() model.Upstream { return model.UpstreamMarketData }

func (a *MarketDataAdapter) Fetch(ctx context.Context) (model.Value, error) {
	if a.credential == "" {
		return nil, &fetcherr.ConfigError{Key: a.ticker, Reason: "missing upstream credential"}
	}

	url := fmt.Sprintf("%s/quote/%s", a.baseURL, a.ticker)
	resp, err := a.http.Get(ctx, url, map[string]string{"Authorization": "Bearer " + a.credential})
	if err != nil {
		return nil, fmt.Errorf("marketdata: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == marketDataRateLimitStatus {
		return nil, fmt.Errorf("marketdata: vendor rate-limit status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketdata: status %d", resp.StatusCode)
	}

	var body struct {
		Price  float64  `json:"price"`
		High   *float64 `json:"high"`
		Low    *float64 `json:"low"`
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("marketdata: malformed payload: %w", err)
	}

	return model.Quote{Price: body.Price, High: body.High, Low: body.Low, Volume: body.Volume}, nil
}
