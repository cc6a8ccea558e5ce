package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/config"
	"github.com/sawpanic/pricecache/internal/fetch"
	"github.com/sawpanic/pricecache/internal/quota"
	"github.com/sawpanic/pricecache/internal/scheduler"
	"github.com/sawpanic/pricecache/internal/telemetry"
)

// Fetcher is the subset of PriceFetcher the handlers depend on.
type Fetcher interface {
	FetchAll(ctx context.Context) fetch.BatchResult
}

// SchedulerStatuser reports the scheduler's own health.
type SchedulerStatuser interface {
	Status() scheduler.Status
}

// Handlers implements the service's read-only JSON endpoints.
type Handlers struct {
	cache     *cache.Cache
	fetcher   Fetcher
	limiter   *quota.Limiter
	scheduler SchedulerStatuser
	cfg       config.Config
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *telemetry.Metrics
}

func NewHandlers(c *cache.Cache, fetcher Fetcher, limiter *quota.Limiter, sched SchedulerStatuser, cfg config.Config, clk clock.Clock, log zerolog.Logger, metrics *telemetry.Metrics) *Handlers {
	return &Handlers{cache: c, fetcher: fetcher, limiter: limiter, scheduler: sched, cfg: cfg, clock: clk, log: log, metrics: metrics}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response body")
	}
}

// PricesAll handles GET /api/prices/all[?force=true].
func (h *Handlers) PricesAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force") == "true" {
		h.cache.Clear()
	}

	result := h.fetcher.FetchAll(r.Context())

	if h.metrics != nil {
		h.metrics.SyncCache(h.cache.Stats())
	}

	data := make(map[string]interface{}, len(result.Data))
	for k, v := range result.Data {
		data[string(k)] = v
	}
	ttls := make(map[string]int, len(result.TTLs))
	for k, ttl := range result.TTLs {
		ttls[string(k)] = int(ttl.Seconds())
	}

	body := PricesResponse{
		Data: data,
		Metadata: PricesMetadata{
			Cached:    result.Cached,
			Partial:   result.Partial,
			Stale:     result.Stale,
			Degraded:  result.Degraded(),
			Timestamp: rfc3339(h.clock.Now()),
			TTLs:      ttls,
		},
		Errors:    nilToEmpty(result.Errors),
		Successes: nilToEmpty(result.Successes),
	}

	status := http.StatusOK
	if result.Partial && len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	h.writeJSON(w, status, body)
}

// Health handles GET /api/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	if h.metrics != nil {
		h.metrics.SyncCache(stats)
	}

	rateLimits := make(map[string]RateLimit, len(h.cfg.Quotas))
	for upstream, limit := range h.cfg.Quotas {
		usage := h.limiter.Usage(upstream, limit)
		rateLimits[upstream] = RateLimit{
			Used:      usage.Used,
			Limit:     usage.Limit,
			Remaining: usage.Remaining,
			ResetIn:   int(usage.ResetIn.Seconds()),
		}
		if h.metrics != nil {
			h.metrics.SyncQuota(upstream, usage)
		}
	}

	sched := h.scheduler.Status()
	var lastTick string
	if !sched.LastTick.IsZero() {
		lastTick = rfc3339(sched.LastTick)
	}

	entries := make([]EntryStatView, len(stats.Entries))
	for i, e := range stats.Entries {
		entries[i] = EntryStatView{
			Key:     string(e.Key),
			Age:     int(e.Age.Seconds()),
			TTL:     int(e.TTL.Seconds()),
			Expired: e.Expired,
		}
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: rfc3339(h.clock.Now()),
		Cache: CacheStatsView{
			Size:    stats.Size,
			Hits:    stats.Hits,
			Misses:  stats.Misses,
			Sets:    stats.Sets,
			HitRate: stats.HitRate,
			Entries: entries,
		},
		RateLimits: rateLimits,
		Scheduler: SchedulerStatusView{
			Running:      sched.Running,
			LastTick:     lastTick,
			LastTickKeys: sched.LastTickKeys,
			Ticks:        sched.Ticks,
		},
	})
}

// Ping handles GET /api/ping.
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, PingResponse{Status: "ok", Timestamp: rfc3339(h.clock.Now())})
}

// NotFound handles unmatched paths with a short JSON error body naming the
// requested path.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Path: r.URL.Path})
}

func nilToEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
