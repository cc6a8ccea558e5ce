// Package quota implements the per-upstream sliding-window rate limiter:
// an append-only ledger of request timestamps, cleaned up on every call so
// it never grows past the current window.
//
// This is distinct from the token-bucket inbound throttle in
// internal/httpapi — that one protects the service's own latency budget
// from its callers; this one protects upstreams from the service, and
// exposes the ledger-based usage() snapshot (used, remaining, resetIn) the
// HTTP health endpoint reports.
package quota

import (
	"sync"
	"time"

	"github.com/sawpanic/pricecache/internal/clock"
)

// Limiter tracks one sliding-window ledger per upstream name.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	ledgers map[string][]time.Time
}

// New returns a Limiter whose sliding window is the given duration.
func New(c clock.Clock, window time.Duration) *Limiter {
	return &Limiter{
		clock:   c,
		window:  window,
		ledgers: make(map[string][]time.Time),
	}
}

// cleanup drops timestamps older than now-window. Caller must hold mu.
func (l *Limiter) cleanup(upstream string) []time.Time {
	now := l.clock.Now()
	kept := l.ledgers[upstream][:0]
	for _, ts := range l.ledgers[upstream] {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	l.ledgers[upstream] = kept
	return kept
}

// CanMakeRequest reports whether upstream is under limit after cleanup.
// Callers must call this before making an upstream call, and RecordRequest
// at the moment of dispatch — dispatch consumes quota even if the upstream
// call ultimately fails, so retry storms can't blow past the quota.
func (l *Limiter) CanMakeRequest(upstream string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cleanup(upstream)) < limit
}

// RecordRequest appends now to upstream's ledger, after cleanup.
func (l *Limiter) RecordRequest(upstream string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(upstream)
	l.ledgers[upstream] = append(l.ledgers[upstream], l.clock.Now())
}

// Usage is the snapshot the /api/health endpoint exposes.
type Usage struct {
	Used      int           `json:"used"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"resetIn"`
}

// Usage reports upstream's current ledger size against limit, and how long
// until the oldest retained timestamp leaves the window.
func (l *Limiter) Usage(upstream string, limit int) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.cleanup(upstream)
	used := len(kept)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	var resetIn time.Duration
	if len(kept) > 0 {
		oldest := kept[0]
		resetIn = l.window - l.clock.Now().Sub(oldest)
		if resetIn < 0 {
			resetIn = 0
		}
	}

	return Usage{Used: used, Limit: limit, Remaining: remaining, ResetIn: resetIn}
}

// Reset clears every ledger.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ledgers = make(map[string][]time.Time)
}
