// Package scheduler keeps the Cache warm without client involvement. It
// owns no HTTP surface and never blocks a client request; it only ever
// writes through the PriceFetcher into the Cache.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/fetch"
	"github.com/sawpanic/pricecache/internal/model"
)

// Fetcher is the subset of PriceFetcher the scheduler depends on.
type Fetcher interface {
	FetchAndCache(ctx context.Context, key model.Key) fetch.Result
	FetchAll(ctx context.Context) fetch.BatchResult
}

// Status reports the scheduler's own health, surfaced by /api/health.
type Status struct {
	Running      bool      `json:"running"`
	LastTick     time.Time `json:"lastTick"`
	LastTickKeys int       `json:"lastTickKeys"`
	Ticks        int64     `json:"ticks"`
}

// Scheduler owns the periodic refresh tick.
type Scheduler struct {
	cache            *cache.Cache
	fetcher          Fetcher
	clock            clock.Clock
	log              zerolog.Logger
	interval         time.Duration
	refreshThreshold time.Duration
	seedOnStartup    bool

	mu       sync.Mutex
	status   Status
	ticker   clock.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(c *cache.Cache, fetcher Fetcher, clk clock.Clock, log zerolog.Logger, interval, refreshThreshold time.Duration, seedOnStartup bool) *Scheduler {
	return &Scheduler{
		cache:            c,
		fetcher:          fetcher,
		clock:            clk,
		log:              log,
		interval:         interval,
		refreshThreshold: refreshThreshold,
		seedOnStartup:    seedOnStartup,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start seeds the cache (if configured) and launches the periodic tick
// loop in a background goroutine. It returns once the optional seed has
// completed; seed failures are logged, never returned, so the HTTP
// surface still starts.
func (s *Scheduler) Start(ctx context.Context) {
	if s.seedOnStartup {
		res := s.fetcher.FetchAll(ctx)
		if len(res.Errors) > 0 {
			s.log.Warn().Strs("errors", res.Errors).Msg("startup seed completed with errors")
		} else {
			s.log.Info().Msg("startup seed completed")
		}
	}

	s.mu.Lock()
	s.status.Running = true
	s.ticker = s.clock.NewTicker(s.interval)
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			s.setRunning(false)
			return
		case <-s.stopCh:
			s.setRunning(false)
			return
		case tickTime, ok := <-s.ticker.C():
			if !ok {
				return
			}
			s.tick(ctx, tickTime)
		}
	}
}

func (s *Scheduler) setRunning(running bool) {
	s.mu.Lock()
	s.status.Running = running
	s.mu.Unlock()
}

// tick snapshots the cache entries, seeds if the cache is empty, and
// otherwise refreshes every entry whose remaining TTL has dropped below
// the refresh threshold. Keys are refreshed concurrently and a per-key
// failure never aborts the tick.
func (s *Scheduler) tick(ctx context.Context, at time.Time) {
	entries := s.cache.Entries()

	if len(entries) == 0 {
		res := s.fetcher.FetchAll(ctx)
		if len(res.Errors) > 0 {
			s.log.Warn().Strs("errors", res.Errors).Msg("tick reseed completed with errors")
		}
		s.recordTick(at, len(model.AllKeys()))
		return
	}

	var stale []model.Key
	for _, key := range model.AllKeys() {
		entry, ok := entries[key]
		if !ok {
			stale = append(stale, key)
			continue
		}
		remaining := entry.ExpiresAt.Sub(at)
		if remaining < s.refreshThreshold {
			stale = append(stale, key)
		}
	}

	var wg sync.WaitGroup
	for _, key := range stale {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := s.fetcher.FetchAndCache(ctx, key)
			if res.Err != nil {
				s.log.Warn().Str("key", string(key)).Err(res.Err).Msg("scheduled refresh failed")
			}
		}()
	}
	wg.Wait()

	s.recordTick(at, len(stale))
}

func (s *Scheduler) recordTick(at time.Time, keys int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastTick = at
	s.status.LastTickKeys = keys
	s.status.Ticks++
}

// Status returns a snapshot of the scheduler's own health.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop cancels the ticker idempotently and waits for the run loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	<-s.doneCh
}
