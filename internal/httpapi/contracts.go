package httpapi

import "time"

// PricesResponse is the wire body for GET /api/prices/all. Field names and
// nesting are load-bearing: the dashboard front-end consumes them directly.
type PricesResponse struct {
	Data      map[string]interface{} `json:"data"`
	Metadata  PricesMetadata         `json:"metadata"`
	Errors    []string               `json:"errors"`
	Successes []string               `json:"successes"`
}

// PricesMetadata is the "metadata" object inside PricesResponse.
type PricesMetadata struct {
	Cached    bool           `json:"cached"`
	Partial   bool           `json:"partial"`
	Stale     bool           `json:"stale"`
	Degraded  bool           `json:"degraded"`
	Timestamp string         `json:"timestamp"`
	TTLs      map[string]int `json:"ttls"`
}

// ErrorResponse is the 503/404 error body shape.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Path       string `json:"path,omitempty"`
}

// HealthResponse is the wire body for GET /api/health.
type HealthResponse struct {
	Status     string               `json:"status"`
	Timestamp  string               `json:"timestamp"`
	Cache      CacheStatsView       `json:"cache"`
	RateLimits map[string]RateLimit `json:"rateLimits"`
	Scheduler  SchedulerStatusView  `json:"scheduler"`
}

// CacheStatsView mirrors cache.Stats onto the wire, including the per-entry
// breakdown sorted by key.
type CacheStatsView struct {
	Size    int             `json:"size"`
	Hits    int64           `json:"hits"`
	Misses  int64           `json:"misses"`
	Sets    int64           `json:"sets"`
	HitRate float64         `json:"hitRate"`
	Entries []EntryStatView `json:"entries"`
}

// EntryStatView is one key's line in the cache breakdown. Age and TTL are
// reported in whole seconds.
type EntryStatView struct {
	Key     string `json:"key"`
	Age     int    `json:"age"`
	TTL     int    `json:"ttl"`
	Expired bool   `json:"expired"`
}

// RateLimit mirrors quota.Usage onto the wire.
type RateLimit struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
	ResetIn   int `json:"resetIn"`
}

// SchedulerStatusView mirrors scheduler.Status onto the wire.
type SchedulerStatusView struct {
	Running      bool   `json:"running"`
	LastTick     string `json:"lastTick,omitempty"`
	LastTickKeys int    `json:"lastTickKeys"`
	Ticks        int64  `json:"ticks"`
}

// PingResponse is the wire body for GET /api/ping.
type PingResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
