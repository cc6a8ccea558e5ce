package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/quota"
)

func TestSyncCachePublishesGaugeValues(t *testing.T) {
	m := New()
	m.SyncCache(cache.Stats{Size: 7, Hits: 10, Misses: 2})

	assert.Equal(t, float64(7), testutil.ToFloat64(m.cacheSize))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheMisses))
}

func TestSyncQuotaPublishesPerUpstreamGauges(t *testing.T) {
	m := New()
	m.SyncQuota("marketdata", quota.Usage{Used: 3, Limit: 5, Remaining: 2, ResetIn: 30 * time.Second})

	assert.Equal(t, float64(3), testutil.ToFloat64(m.quotaUsage.WithLabelValues("marketdata")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.quotaLimit.WithLabelValues("marketdata")))
}

func TestSetBreakerStateMapsStringsToGaugeValues(t *testing.T) {
	m := New()

	m.SetBreakerState("marketdata", "closed")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.breakerState.WithLabelValues("marketdata")))

	m.SetBreakerState("marketdata", "half-open")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.breakerState.WithLabelValues("marketdata")))

	m.SetBreakerState("marketdata", "open")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.breakerState.WithLabelValues("marketdata")))
}

func TestObserveFetchRecordsHistogramSample(t *testing.T) {
	m := New()
	m.ObserveFetch("btc", "success", 50*time.Millisecond)

	count := testutil.CollectAndCount(m.fetchLatency)
	assert.Equal(t, 1, count)
}
