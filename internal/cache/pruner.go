package cache

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned by NewPruner for a non-positive window.
var ErrInvalidWindow = errors.New("cache: window must be positive")

// Pruner decides which timestamps have fallen out of the sliding window.
//
// It tracks every registered timestamp in an arrival-ordered queue (one slot
// per registration, duplicates included) and a running maximum, the
// watermark. A timestamp is stale once it is strictly older than
// watermark - window. The queue is a FIFO frontier, not a sorted structure:
// a late-registered old timestamp sitting behind a newer one is only found
// once the queue drains to it. Registration is expected to be near-monotonic,
// so stragglers are picked up by a later sweep.
//
// The Pruner holds no entries and no reference into the cache; it only
// selects keys. Callers serialize access (the Cache does this under its own
// lock).
type Pruner struct {
	window    time.Duration
	queue     []int64
	watermark int64
	seen      bool
}

// NewPruner creates a Pruner with the given window length.
func NewPruner(window time.Duration) (*Pruner, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &Pruner{window: window}, nil
}

// Register records one timestamp arrival. Every call occupies a queue slot,
// even for a timestamp already registered.
func (p *Pruner) Register(ts int64) {
	p.queue = append(p.queue, ts)
	if !p.seen || ts > p.watermark {
		p.watermark = ts
		p.seen = true
	}
}

// Watermark returns the maximum timestamp registered so far and whether any
// timestamp has been registered at all.
func (p *Pruner) Watermark() (int64, bool) {
	return p.watermark, p.seen
}

// SelectStale pops and returns, in registration order, every timestamp at the
// front of the queue strictly older than watermark - window. A timestamp
// exactly at the threshold is retained. Returns nil when nothing is
// registered or nothing qualifies.
func (p *Pruner) SelectStale() []int64 {
	if len(p.queue) == 0 {
		return nil
	}
	threshold := p.watermark - int64(p.window)

	var stale []int64
	for len(p.queue) > 0 && p.queue[0] < threshold {
		stale = append(stale, p.queue[0])
		p.queue = p.queue[1:]
	}
	return stale
}

// Pending returns the number of registrations awaiting eviction.
func (p *Pruner) Pending() int {
	return len(p.queue)
}
