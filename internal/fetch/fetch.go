// Package fetch implements the PriceFetcher: the component that honours
// quota and retry policy to materialise a fresh value for a key, writes
// through to the cache, and falls back to a stale entry or a declared
// fallback when retries are exhausted.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/config"
	"github.com/sawpanic/pricecache/internal/fetcherr"
	"github.com/sawpanic/pricecache/internal/model"
	"github.com/sawpanic/pricecache/internal/quota"
	"github.com/sawpanic/pricecache/internal/telemetry"
	"github.com/sawpanic/pricecache/internal/upstream"
)

// Result is the outcome of a single fetchAndCache call.
type Result struct {
	OK    bool
	Value model.Value
	Stale bool
	Err   error
}

// PriceFetcher ties the Cache, the Limiter and the upstream Registry
// together under the retry/backoff policy in config.Config.
type PriceFetcher struct {
	cache     *cache.Cache
	limiter   *quota.Limiter
	registry  upstream.Registry
	cfg       config.Config
	fallbacks map[model.Key]model.Value
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

func New(c *cache.Cache, limiter *quota.Limiter, registry upstream.Registry, cfg config.Config, fallbacks map[model.Key]model.Value, clk clock.Clock, log zerolog.Logger, metrics *telemetry.Metrics) *PriceFetcher {
	return &PriceFetcher{
		cache:     c,
		limiter:   limiter,
		registry:  registry,
		cfg:       cfg,
		fallbacks: fallbacks,
		clock:     clk,
		log:       log,
		metrics:   metrics,
	}
}

// quotaFor returns the upstream's declared limit and whether one exists.
func (f *PriceFetcher) quotaFor(u model.Upstream) (int, bool) {
	limit, ok := f.cfg.Quotas[string(u)]
	return limit, ok
}

// FetchAndCache materialises a fresh value for key, honouring quota and
// retry policy, and writes it through to the cache.
func (f *PriceFetcher) FetchAndCache(ctx context.Context, key model.Key) Result {
	start := f.clock.Now()

	adapter, ok := f.registry.Lookup(key)
	if !ok {
		err := &fetcherr.ConfigError{Key: string(key), Reason: "no adapter bound to key"}
		res := f.fallbackOnFailure(key, err)
		f.observe(key, start, res)
		return res
	}

	upstreamName := adapter.Upstream()

	if limit, hasQuota := f.quotaFor(upstreamName); hasQuota {
		if !f.limiter.CanMakeRequest(string(upstreamName), limit) {
			err := &fetcherr.QuotaDeniedError{Key: string(key), Upstream: string(upstreamName)}
			res := f.fallbackOnFailure(key, err)
			f.observe(key, start, res)
			return res
		}
		// Quota is charged once, at dispatch of the outer call — not once
		// per retry attempt. Charging at dispatch caps upstream pressure
		// even when every attempt fails.
		f.limiter.RecordRequest(string(upstreamName))
	}

	value, err := f.attemptWithBackoff(ctx, key, adapter)
	f.reportBreakerState(adapter, upstreamName)
	if err != nil {
		// A configuration error surfaces as itself; everything else was a
		// retried transient and surfaces as exhausted.
		var cfgErr *fetcherr.ConfigError
		if !errors.As(err, &cfgErr) {
			err = &fetcherr.ExhaustedError{Key: string(key), Attempt: f.cfg.MaxRetries, Last: err}
		}
		res := f.fallbackOnFailure(key, err)
		f.observe(key, start, res)
		return res
	}

	f.cache.Set(key, value)
	res := Result{OK: true, Value: value}
	f.observe(key, start, res)
	return res
}

// breakerStateReporter is implemented by upstream.BreakerAdapter; matched
// via interface assertion so this package doesn't need to import upstream's
// gobreaker-specific type for the common, unwrapped adapter case.
type breakerStateReporter interface {
	State() string
}

// reportBreakerState pushes an adapter's current circuit state to the
// breaker-state gauge, if the adapter is breaker-wrapped and metrics are
// configured.
func (f *PriceFetcher) reportBreakerState(adapter upstream.Adapter, upstreamName model.Upstream) {
	if f.metrics == nil {
		return
	}
	if reporter, ok := adapter.(breakerStateReporter); ok {
		f.metrics.SetBreakerState(string(upstreamName), reporter.State())
	}
}

// observe records the outcome of one fetchAndCache call to the fetch-
// latency histogram, labelled by key and a coarse outcome (the failure
// taxonomy collapsed to "success"/"stale"/"fallback"/"error" for cardinality).
func (f *PriceFetcher) observe(key model.Key, start time.Time, res Result) {
	if f.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case res.Err == nil:
		outcome = "success"
	case res.Stale:
		outcome = "stale"
	case res.Value != nil:
		outcome = "fallback"
	default:
		outcome = "error"
	}
	f.metrics.ObserveFetch(string(key), outcome, f.clock.Now().Sub(start))
}

// attemptWithBackoff runs attempt 0 immediately, then retries up to
// MaxRetries-1 more times with delay BaseDelay*2^k between attempt k and
// k+1. An open circuit breaker short-circuits the remaining attempts
// immediately, since they would all fail the same way. A configuration
// error (e.g. a missing credential) is non-retriable and returns at once.
func (f *PriceFetcher) attemptWithBackoff(ctx context.Context, key model.Key, adapter upstream.Adapter) (model.Value, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		value, err := adapter.Fetch(ctx)
		if err == nil {
			return value, nil
		}
		f.log.Warn().Str("key", string(key)).Int("attempt", attempt).Err(err).Msg("upstream attempt failed")

		var cfgErr *fetcherr.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		lastErr = &fetcherr.UpstreamError{Key: string(key), Err: err}
		if errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
		if attempt+1 < f.cfg.MaxRetries {
			delay := f.cfg.BaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.clock.After(delay):
			}
		}
	}
	return nil, lastErr
}

// fallbackOnFailure consults the raw (possibly stale) cache entry; if none
// exists it substitutes the declared fallback. Either way the key is still
// reported as an error to the caller.
func (f *PriceFetcher) fallbackOnFailure(key model.Key, err error) Result {
	if raw, ok := f.cache.GetRaw(key); ok {
		return Result{OK: false, Value: raw.Value, Stale: true, Err: err}
	}
	if fb, ok := f.fallbacks[key]; ok {
		return Result{OK: false, Value: fb, Err: err}
	}
	return Result{OK: false, Err: err}
}

// BatchResult is FetchAll's return shape, mirrored directly onto the
// /api/prices/all response body.
type BatchResult struct {
	Data       map[model.Key]model.Value
	Errors     []string
	Successes  []string
	Cached     bool
	Partial    bool
	Stale      bool
	TTLs       map[model.Key]time.Duration
}

// FetchAll materialises every known key: a warm-cache fast path, a
// parallel head for the no-quota keys, and a sequential tail for the
// quota-bearing keys that paces itself against the rate limiter.
func (f *PriceFetcher) FetchAll(ctx context.Context) BatchResult {
	if data, ttls, ok := f.warmFastPath(); ok {
		return BatchResult{Data: data, TTLs: ttls, Cached: true, Successes: keyStrings(model.AllKeys())}
	}

	data := make(map[model.Key]model.Value, len(model.AllKeys()))
	var errs []string
	var successes []string
	var partial, stale bool
	var mu sync.Mutex

	// Any errored key, head or tail, marks the batch partial: the wire
	// contract defines metadata.partial as "any key had an error".
	record := func(key model.Key, res Result) {
		mu.Lock()
		defer mu.Unlock()
		if res.Value != nil {
			data[key] = res.Value
		}
		if res.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, res.Err))
			partial = true
		} else {
			successes = append(successes, string(key))
		}
		if res.Stale {
			stale = true
		}
	}

	// Parallel head: the two no-quota keys. Cache-fresh entries are adopted
	// without an upstream call; otherwise fetchAndCache runs.
	var wg sync.WaitGroup
	for _, key := range model.NoQuotaKeys() {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok := f.cache.Get(key); ok {
				record(key, Result{OK: true, Value: v})
				return
			}
			record(key, f.FetchAndCache(ctx, key))
		}()
	}
	wg.Wait()

	// Sequential tail: the quota-bearing market-data keys, in fixed order,
	// pacing itself so it never exceeds the upstream's quota.
	tail := model.MarketDataKeys()
	for i, key := range tail {
		if v, ok := f.cache.Get(key); ok {
			record(key, Result{OK: true, Value: v})
			continue
		}

		res := f.FetchAndCache(ctx, key)
		record(key, res)

		if adapter, ok := f.registry.Lookup(key); ok {
			if limit, hasQuota := f.quotaFor(adapter.Upstream()); hasQuota {
				usage := f.limiter.Usage(string(adapter.Upstream()), limit)
				moreRemain := i+1 < len(tail)
				if usage.Remaining == 1 && moreRemain {
					f.clock.Sleep(f.cfg.RateLimitWindow / 5)
				}
			}
		}
	}

	// Any key still without a value gets the declared fallback. Every
	// failure path of FetchAndCache, an unbound key included, already runs
	// fallbackOnFailure with the same fallback map, so this loop is only a
	// backstop; the key's error was recorded when its result came back.
	for _, key := range model.AllKeys() {
		if _, ok := data[key]; !ok {
			if fb, ok := f.fallbacks[key]; ok {
				data[key] = fb
			}
		}
	}

	ttls := make(map[model.Key]time.Duration, len(model.AllKeys()))
	for _, key := range model.AllKeys() {
		ttls[key] = f.cache.RemainingTTL(key)
	}

	sort.Strings(errs)
	sort.Strings(successes)

	return BatchResult{
		Data:      data,
		Errors:    errs,
		Successes: successes,
		Partial:   partial,
		Stale:     stale,
		TTLs:      ttls,
	}
}

// warmFastPath returns (data, ttls, true) iff every known key has a
// non-expired cache entry: either every key is observed fresh, or the
// caller falls through to the miss path.
func (f *PriceFetcher) warmFastPath() (map[model.Key]model.Value, map[model.Key]time.Duration, bool) {
	data := make(map[model.Key]model.Value, len(model.AllKeys()))
	ttls := make(map[model.Key]time.Duration, len(model.AllKeys()))
	for _, key := range model.AllKeys() {
		v, ok := f.cache.Get(key)
		if !ok {
			return nil, nil, false
		}
		data[key] = v
		ttls[key] = f.cache.RemainingTTL(key)
	}
	return data, ttls, true
}

func keyStrings(keys []model.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}

// ErrorCount reports how many of the batch's keys ended up from an error
// path (stale or fallback), used by the HTTP handler's `degraded` flag.
func (b BatchResult) ErrorCount() int {
	return len(b.Errors)
}

// Degraded is true when more than three keys' values came from an error
// path in this single response.
func (b BatchResult) Degraded() bool {
	return b.ErrorCount() > 3
}
