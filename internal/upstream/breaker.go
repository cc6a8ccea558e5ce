package upstream

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker"

	"github.com/sawpanic/pricecache/internal/model"
)

// BreakerAdapter puts a circuit breaker around each single Fetch of an
// Adapter, so every retry attempt of the fetcher passes through it. Once the
// breaker trips, Fetch fails fast with gobreaker.ErrOpenState until the
// breaker's timeout elapses, then probes again in half-open state. The
// fetcher stops its backoff ladder on that error, so a fetch can end before
// MAX_RETRIES attempts, and an already-known-down upstream does not re-run
// the full ladder on every scheduler tick. Each BreakerAdapter owns its own
// breaker: adapters for different keys of one upstream share no state.
type BreakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker
}

// BreakerConfig configures when the breaker trips and how long it stays open.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// WrapWithBreaker returns an Adapter identical to inner except that repeated
// failures open a circuit of its own, named after inner's upstream.
func WrapWithBreaker(inner Adapter, cfg BreakerConfig) *BreakerAdapter {
	settings := gobreaker.Settings{
		Name:    string(inner.Upstream()),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &BreakerAdapter{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerAdapter) Key() model.Key           { return b.inner.Key() }
func (b *BreakerAdapter) Upstream() model.Upstream { return b.inner.Upstream() }

func (b *BreakerAdapter) Fetch(ctx context.Context) (model.Value, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(model.Value), nil
}

// State reports the breaker's current state as the strings the fetcher
// passes to telemetry's breaker-state gauge ("closed", "open", "half-open").
func (b *BreakerAdapter) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
