// Package cache implements the core's in-memory price store: O(1) reads and
// writes over a small, bounded key set, with randomised per-write TTL to
// de-synchronise refreshes across keys and across restarts.
package cache

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/model"
)

// Entry is one cached value with its creation and expiry timestamps.
type Entry struct {
	Value     model.Value
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Cache is safe for concurrent use. Mutators take the write lock, and so
// does Get, because it updates the hit/miss counters; the other single-key
// reads and the snapshot assemblers (Entries, Stats) take the read lock, so
// a snapshot can never observe a torn entry.
type Cache struct {
	mu      sync.RWMutex
	store   map[model.Key]Entry
	clock   clock.Clock
	ttlMin  time.Duration
	ttlMax  time.Duration
	rand    *rand.Rand
	randMu  sync.Mutex
	hits    int64
	misses  int64
	sets    int64
}

// New returns an empty Cache that draws TTLs uniformly from [ttlMin, ttlMax].
func New(c clock.Clock, ttlMin, ttlMax time.Duration) *Cache {
	return &Cache{
		store:  make(map[model.Key]Entry),
		clock:  c,
		ttlMin: ttlMin,
		ttlMax: ttlMax,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Cache) randomTTL() time.Duration {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	span := c.ttlMax - c.ttlMin
	if span <= 0 {
		return c.ttlMin
	}
	return c.ttlMin + time.Duration(c.rand.Int63n(int64(span)+1))
}

// Set writes value under key with a freshly, independently randomised TTL.
// Last write wins; the previous entry (if any) is fully replaced.
func (c *Cache) Set(key model.Key, value model.Value) {
	now := c.clock.Now()
	ttl := c.randomTTL()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = Entry{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.sets++
}

// Get returns the value if a non-expired entry exists. An entry whose
// ExpiresAt equals now is treated as expired (a miss).
func (c *Cache) Get(key model.Key) (model.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok || !entry.ExpiresAt.After(c.clock.Now()) {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.Value, true
}

// GetRaw returns the entry regardless of expiry, used by the stale-cache
// fallback path in the fetcher.
func (c *Cache) GetRaw(key model.Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[key]
	return e, ok
}

// Has reports whether a non-expired entry exists for key.
func (c *Cache) Has(key model.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[key]
	return ok && e.ExpiresAt.After(c.clock.Now())
}

// RemainingTTL returns max(0, ExpiresAt-now); zero if the key is absent.
func (c *Cache) RemainingTTL(key model.Key) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[key]
	if !ok {
		return 0
	}
	d := e.ExpiresAt.Sub(c.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Entries returns a snapshot of every (key, entry) pair, used by the
// scheduler to decide what needs a refresh.
func (c *Cache) Entries() map[model.Key]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.Key]Entry, len(c.store))
	for k, v := range c.store {
		out[k] = v
	}
	return out
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key model.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// Clear empties the cache. Counters are untouched — they describe the
// process's lifetime history, not the current store contents.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[model.Key]Entry)
}

// EntryStat is one key's line in Stats' per-entry breakdown.
type EntryStat struct {
	Key     model.Key     `json:"key"`
	Age     time.Duration `json:"age"`
	TTL     time.Duration `json:"ttl"`
	Expired bool          `json:"expired"`
}

// Stats is the Cache's introspection snapshot.
type Stats struct {
	Size    int         `json:"size"`
	Hits    int64       `json:"hits"`
	Misses  int64       `json:"misses"`
	Sets    int64       `json:"sets"`
	HitRate float64     `json:"hitRate"`
	Entries []EntryStat `json:"entries"`
}

// Stats assembles size/hit/miss/set counters and a per-entry breakdown
// sorted by key for deterministic output.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	entries := make([]EntryStat, 0, len(c.store))
	for k, e := range c.store {
		entries = append(entries, EntryStat{
			Key:     k,
			Age:     now.Sub(e.CreatedAt),
			TTL:     e.ExpiresAt.Sub(now),
			Expired: !e.ExpiresAt.After(now),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:    len(c.store),
		Hits:    c.hits,
		Misses:  c.misses,
		Sets:    c.sets,
		HitRate: hitRate,
		Entries: entries,
	}
}
