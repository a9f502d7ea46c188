package cache

import (
	"sort"
	"sync"

	"github.com/tidelog/tidelog/internal/model"
)

// Cache holds recently ingested entries in an always-time-ordered view and
// evicts entries the Pruner selects as stale.
//
// Storage is an ordered mapping from timestamp (ns) to the bucket of entries
// sharing that exact timestamp, append-only per bucket. A key exists iff its
// bucket is non-empty. Add, Query, Dump and Evict all serialize on one mutex:
// eviction runs asynchronously relative to ingestion and reads, and a sweep
// must never observe a half-removed bucket or race a concurrent append.
type Cache struct {
	mu      sync.Mutex
	keys    []int64 // sorted ascending
	buckets map[int64][]model.Entry
	pruner  *Pruner

	entries int
	evicted int64
}

// New creates a Cache that delegates eviction decisions to pruner.
func New(pruner *Pruner) *Cache {
	return &Cache{
		buckets: make(map[int64][]model.Entry),
		pruner:  pruner,
	}
}

// Add registers the entry's timestamp with the pruner and appends the entry
// to its bucket, creating the bucket if absent. Always succeeds.
func (c *Cache) Add(e model.Entry) {
	ts := e.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruner.Register(ts)

	if _, ok := c.buckets[ts]; !ok {
		i := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= ts })
		c.keys = append(c.keys, 0)
		copy(c.keys[i+1:], c.keys[i:])
		c.keys[i] = ts
	}
	c.buckets[ts] = append(c.buckets[ts], e)
	c.entries++
}

// Query returns all cached entries with start <= timestamp <= end, ascending
// by timestamp and in arrival order within equal timestamps. An empty result
// is not an error; callers fall through to the durable store.
func (c *Cache) Query(start, end int64) []model.Entry {
	if start > end {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lo := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= start })
	hi := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] > end })

	var out []model.Entry
	for _, ts := range c.keys[lo:hi] {
		out = append(out, c.buckets[ts]...)
	}
	return out
}

// Dump returns every cached entry in the same ordering rule as Query.
func (c *Cache) Dump() []model.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Entry, 0, c.entries)
	for _, ts := range c.keys {
		out = append(out, c.buckets[ts]...)
	}
	return out
}

// Evict runs one eviction sweep and returns the removed entries in eviction
// order: stale buckets in the order the pruner popped them, arrival order
// within each bucket. A second call with no intervening Add returns nil.
//
// Duplicate registrations of one timestamp each occupy a queue slot; only the
// first pop that still finds the bucket yields entries, later pops are
// skipped. Persisting the result is the caller's job and must happen after
// this method returns, outside the cache lock.
func (c *Cache) Evict() []model.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.Entry
	for _, ts := range c.pruner.SelectStale() {
		bucket, ok := c.buckets[ts]
		if !ok {
			continue
		}
		out = append(out, bucket...)
		delete(c.buckets, ts)
		c.removeKey(ts)
		c.entries -= len(bucket)
		c.evicted += int64(len(bucket))
	}
	return out
}

func (c *Cache) removeKey(ts int64) {
	i := sort.Search(len(c.keys), func(i int) bool { return c.keys[i] >= ts })
	if i < len(c.keys) && c.keys[i] == ts {
		c.keys = append(c.keys[:i], c.keys[i+1:]...)
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Buckets   int   `json:"buckets"`
	Evicted   int64 `json:"evicted"`
	Pending   int   `json:"pending_registrations"`
	Watermark int64 `json:"watermark"`
}

// GetStats returns current cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	wm, _ := c.pruner.Watermark()
	return Stats{
		Entries:   c.entries,
		Buckets:   len(c.keys),
		Evicted:   c.evicted,
		Pending:   c.pruner.Pending(),
		Watermark: wm,
	}
}
