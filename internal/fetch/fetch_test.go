package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/config"
	"github.com/sawpanic/pricecache/internal/fetcherr"
	"github.com/sawpanic/pricecache/internal/model"
	"github.com/sawpanic/pricecache/internal/quota"
	"github.com/sawpanic/pricecache/internal/upstream"
)

// scriptedAdapter returns the next entry of results on each Fetch call.
type scriptedAdapter struct {
	key      model.Key
	upstream model.Upstream
	results  []scriptedResult
	calls    int
}

type scriptedResult struct {
	value model.Value
	err   error
}

func (a *scriptedAdapter) Key() model.Key           { return a.key }
func (a *scriptedAdapter) Upstream() model.Upstream { return a.upstream }
func (a *scriptedAdapter) Fetch(ctx context.Context) (model.Value, error) {
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	r := a.results[i]
	return r.value, r.err
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxRetries = 5
	cfg.BaseDelay = 16 * time.Second
	cfg.Quotas = map[string]int{"marketdata": 5}
	cfg.RateLimitWindow = 60 * time.Second
	return cfg
}

func newHarness(t *testing.T) (*PriceFetcher, *cache.Cache, *quota.Limiter, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := testConfig()
	c := cache.New(fc, cfg.TTLMin, cfg.TTLMax)
	limiter := quota.New(fc, cfg.RateLimitWindow)
	fallbacks := map[model.Key]model.Value{
		model.KeyBTC: model.Scalar(-1),
	}
	f := New(c, limiter, upstream.Registry{}, cfg, fallbacks, fc, zerolog.Nop(), nil)
	return f, c, limiter, fc
}

func TestFetchAndCacheSuccessWritesThrough(t *testing.T) {
	f, c, _, _ := newHarness(t)
	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{{value: model.Scalar(100000)}},
	}

	res := f.FetchAndCache(context.Background(), model.KeyBTC)
	require.True(t, res.OK)
	assert.Equal(t, model.Scalar(100000), res.Value)

	v, ok := c.Get(model.KeyBTC)
	require.True(t, ok)
	assert.Equal(t, model.Scalar(100000), v)
}

func TestFetchAndCacheUnknownKeyIsConfigError(t *testing.T) {
	f, _, _, _ := newHarness(t)
	res := f.FetchAndCache(context.Background(), model.Key("nope"))
	assert.False(t, res.OK)
	require.Error(t, res.Err)
}

func TestFetchAndCacheQuotaDenied(t *testing.T) {
	f, _, limiter, _ := newHarness(t)
	f.registry[model.KeyMSTR] = &scriptedAdapter{
		key: model.KeyMSTR, upstream: model.UpstreamMarketData,
		results: []scriptedResult{{value: model.Quote{Price: 1}}},
	}
	for i := 0; i < 5; i++ {
		limiter.RecordRequest(string(model.UpstreamMarketData))
	}

	res := f.FetchAndCache(context.Background(), model.KeyMSTR)
	assert.False(t, res.OK)
	require.Error(t, res.Err)
}

func TestFetchAndCacheRetriesThenSucceeds(t *testing.T) {
	f, c, _, fc := newHarness(t)
	start := fc.Now()
	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{
			{err: errors.New("boom")},
			{err: errors.New("boom")},
			{value: model.Scalar(42)},
		},
	}

	res := f.FetchAndCache(context.Background(), model.KeyBTC)
	require.True(t, res.OK)
	assert.Equal(t, model.Scalar(42), res.Value)

	v, ok := c.Get(model.KeyBTC)
	require.True(t, ok)
	assert.Equal(t, model.Scalar(42), v)

	// Two backoff sleeps of BaseDelay*2^0 and BaseDelay*2^1 must have
	// elapsed on the fake clock before success.
	elapsed := fc.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, f.cfg.BaseDelay+2*f.cfg.BaseDelay)
}

func TestFetchAndCacheExhaustedFallsBackToStale(t *testing.T) {
	f, c, _, _ := newHarness(t)
	c.Set(model.KeyBTC, model.Scalar(95000))

	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{{err: errors.New("down")}},
	}

	res := f.FetchAndCache(context.Background(), model.KeyBTC)
	assert.False(t, res.OK)
	assert.True(t, res.Stale)
	assert.Equal(t, model.Scalar(95000), res.Value)
}

func TestFetchAndCacheExhaustedFallsBackToDeclaredFallback(t *testing.T) {
	f, _, _, _ := newHarness(t)
	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{{err: errors.New("down")}},
	}

	res := f.FetchAndCache(context.Background(), model.KeyBTC)
	assert.False(t, res.OK)
	assert.False(t, res.Stale)
	assert.Equal(t, model.Scalar(-1), res.Value)
}

func TestFetchAndCacheConfigErrorFromAdapterDoesNotRetry(t *testing.T) {
	f, _, _, fc := newHarness(t)
	start := fc.Now()
	adapter := &scriptedAdapter{
		key: model.KeyMSTR, upstream: model.UpstreamMarketData,
		results: []scriptedResult{{err: &fetcherr.ConfigError{Key: "MSTR", Reason: "missing upstream credential"}}},
	}
	f.registry[model.KeyMSTR] = adapter

	res := f.FetchAndCache(context.Background(), model.KeyMSTR)
	assert.False(t, res.OK)
	require.Error(t, res.Err)

	// A configuration error is non-retriable: exactly one attempt, no
	// backoff sleep observed on the fake clock.
	assert.Equal(t, 1, adapter.calls)
	assert.Equal(t, start, fc.Now())
}

func TestFetchAllWarmCacheMakesNoUpstreamCalls(t *testing.T) {
	f, c, _, _ := newHarness(t)
	for _, k := range model.AllKeys() {
		c.Set(k, model.Scalar(1))
	}
	callCounter := &scriptedAdapter{key: model.KeyBTC, upstream: model.UpstreamCrypto, results: []scriptedResult{{value: model.Scalar(999)}}}
	f.registry[model.KeyBTC] = callCounter

	res := f.FetchAll(context.Background())
	assert.True(t, res.Cached)
	assert.Equal(t, 0, callCounter.calls)

	// Second call: still warm, still zero calls.
	res2 := f.FetchAll(context.Background())
	assert.True(t, res2.Cached)
	assert.Equal(t, 0, callCounter.calls)
	assert.Equal(t, res.Data, res2.Data)
}

func TestFetchAllPartialOnMarketDataOutage(t *testing.T) {
	f, _, _, _ := newHarness(t)
	f.registry[model.KeyBTC] = &scriptedAdapter{key: model.KeyBTC, upstream: model.UpstreamCrypto, results: []scriptedResult{{value: model.Scalar(100000)}}}
	f.registry[model.KeyEUR] = &scriptedAdapter{key: model.KeyEUR, upstream: model.UpstreamFX, results: []scriptedResult{{value: model.Scalar(1.05)}}}
	for _, k := range model.MarketDataKeys() {
		f.registry[k] = &scriptedAdapter{key: k, upstream: model.UpstreamMarketData, results: []scriptedResult{{err: errors.New("vendor rate-limited")}}}
	}
	f.fallbacks[model.KeyMSTR] = model.Quote{Price: 0}
	for _, k := range model.MarketDataKeys() {
		if _, ok := f.fallbacks[k]; !ok {
			f.fallbacks[k] = model.Quote{Price: 0}
		}
	}

	res := f.FetchAll(context.Background())
	assert.True(t, res.Partial)
	assert.Len(t, res.Errors, 5)
	assert.Equal(t, model.Scalar(100000), res.Data[model.KeyBTC])
	assert.Equal(t, model.Scalar(1.05), res.Data[model.KeyEUR])
}

func TestFetchAllHeadKeyErrorMarksPartial(t *testing.T) {
	f, c, _, _ := newHarness(t)
	for _, k := range model.MarketDataKeys() {
		c.Set(k, model.Quote{Price: 1})
	}
	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{{err: errors.New("down")}},
	}
	f.registry[model.KeyEUR] = &scriptedAdapter{
		key: model.KeyEUR, upstream: model.UpstreamFX,
		results: []scriptedResult{{value: model.Scalar(1.05)}},
	}

	res := f.FetchAll(context.Background())
	assert.True(t, res.Partial, "an errored head key must mark the batch partial")
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, model.Scalar(-1), res.Data[model.KeyBTC])
}

func TestStaleEntryServedAfterExpiry(t *testing.T) {
	f, c, _, fc := newHarness(t)
	c.Set(model.KeyBTC, model.Scalar(95000))
	fc.Advance(601 * time.Second) // past TTL_MAX, entry now stale

	f.registry[model.KeyBTC] = &scriptedAdapter{
		key: model.KeyBTC, upstream: model.UpstreamCrypto,
		results: []scriptedResult{{err: errors.New("connection refused")}},
	}

	res := f.FetchAndCache(context.Background(), model.KeyBTC)
	assert.False(t, res.OK)
	assert.True(t, res.Stale)
	assert.Equal(t, model.Scalar(95000), res.Value)
}

func TestFetchAllConcurrentWarmReadsAgree(t *testing.T) {
	f, c, _, _ := newHarness(t)
	for _, k := range model.AllKeys() {
		c.Set(k, model.Scalar(7))
	}
	counter := &scriptedAdapter{key: model.KeyBTC, upstream: model.UpstreamCrypto, results: []scriptedResult{{value: model.Scalar(999)}}}
	f.registry[model.KeyBTC] = counter

	results := make([]BatchResult, 10)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.FetchAll(context.Background())
		}()
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Cached)
		assert.Equal(t, results[0].Data, res.Data)
	}
	assert.Equal(t, 0, counter.calls)
}

func TestDegradedWhenMoreThanThreeErrors(t *testing.T) {
	res := BatchResult{Errors: []string{"a", "b", "c", "d"}}
	assert.True(t, res.Degraded())
	res2 := BatchResult{Errors: []string{"a", "b", "c"}}
	assert.False(t, res2.Degraded())
}
