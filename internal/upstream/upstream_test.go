package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pricecache/internal/fetcherr"
	"github.com/sawpanic/pricecache/internal/model"
)

func TestCryptoAdapterParsesSimplePriceShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 65000.5},
		})
	}))
	defer srv.Close()

	a := NewCryptoAdapter(srv.URL, "bitcoin", "usd", time.Second)
	assert.Equal(t, model.KeyBTC, a.Key())
	assert.Equal(t, model.UpstreamCrypto, a.Upstream())

	v, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Scalar(65000.5), v)
}

func TestCryptoAdapterMissingCoinIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]float64{})
	}))
	defer srv.Close()

	a := NewCryptoAdapter(srv.URL, "bitcoin", "usd", time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

func TestFXAdapterParsesLatestRatesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rates": map[string]float64{"USD": 1.08},
		})
	}))
	defer srv.Close()

	a := NewFXAdapter(srv.URL, "EUR", "USD", time.Second)
	v, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Scalar(1.08), v)
}

func TestMarketDataAdapterMissingCredentialIsConfigError(t *testing.T) {
	a := NewMarketDataAdapter("http://unused.example", "MSTR", "", time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	var cfgErr *fetcherr.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestMarketDataAdapterParsesQuoteShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{"price": 120.5})
	}))
	defer srv.Close()

	a := NewMarketDataAdapter(srv.URL, "MSTR", "secret", time.Second)
	v, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Quote{Price: 120.5}, v)
}

func TestMarketDataAdapterVendorRateLimitIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewMarketDataAdapter(srv.URL, "MSTR", "secret", time.Second)
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

type flakyAdapter struct {
	key      model.Key
	upstream model.Upstream
	fail     bool
}

func (f *flakyAdapter) Key() model.Key           { return f.key }
func (f *flakyAdapter) Upstream() model.Upstream { return f.upstream }
func (f *flakyAdapter) Fetch(ctx context.Context) (model.Value, error) {
	if f.fail {
		return nil, assertError{}
	}
	return model.Scalar(1), nil
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestBreakerOpensAfterConsecutiveFailuresAndFailsFast(t *testing.T) {
	inner := &flakyAdapter{key: model.KeyMSTR, upstream: model.UpstreamMarketData, fail: true}
	b := WrapWithBreaker(inner, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	_, err1 := b.Fetch(context.Background())
	require.Error(t, err1)
	_, err2 := b.Fetch(context.Background())
	require.Error(t, err2)

	assert.Equal(t, "open", b.State())

	_, err3 := b.Fetch(context.Background())
	require.Error(t, err3)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	inner := &flakyAdapter{key: model.KeyBTC, upstream: model.UpstreamCrypto, fail: false}
	b := WrapWithBreaker(inner, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute})

	v, err := b.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Scalar(1), v)
	assert.Equal(t, "closed", b.State())
}
