package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sawpanic/pricecache/internal/model"
)

// CryptoAdapter fetches a single spot price from a CoinGecko-shaped
// simple-price endpoint and yields a Scalar.
type CryptoAdapter struct {
	http       *httpGetter
	baseURL    string // e.g. https://api.coingecko.com/api/v3/simple/price
	coinID     string // e.g. "bitcoin"
	vsCurrency string // e.g. "usd"
}

func NewCryptoAdapter(baseURL, coinID, vsCurrency string, timeout time.Duration) *CryptoAdapter {
	return &CryptoAdapter{
		http:       newHTTPGetter(timeout),
		baseURL:    baseURL,
		coinID:     coinID,
		vsCurrency: vsCurrency,
	}
}

func (a *CryptoAdapter) Key() model.Key           { return model.KeyBTC }
func (a *CryptoAdapter) Upstream() model.Upstream { return model.UpstreamCrypto }

func (a *CryptoAdapter) Fetch(ctx context.Context) (model.Value, error) {
	url := fmt.Sprintf("%s?ids=%s&vs_currencies=%s", a.baseURL, a.coinID, a.vsCurrency)

	resp, err := a.http.Get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crypto: status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("crypto: decode: %w", err)
	}

	coin, ok := body[a.coinID]
	if !ok {
		return nil, fmt.Errorf("crypto: coin %q not present in response", a.coinID)
	}
	price, ok := coin[a.vsCurrency]
	if !ok {
		return nil, fmt.Errorf("crypto: currency %q not present for coin %q", a.vsCurrency, a.coinID)
	}

	return model.Scalar(price), nil
}
