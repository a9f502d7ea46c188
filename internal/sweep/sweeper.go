// Package sweep drives cache eviction from a single consumer goroutine and
// hands evicted entries to the durable store.
package sweep

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tidelog/tidelog/internal/model"
)

// Evictor is the cache-side contract: one sweep, returning the removed
// entries in eviction order.
type Evictor interface {
	Evict() []model.Entry
}

// Persister is the durable-store contract for evicted batches.
type Persister interface {
	Persist(ctx context.Context, entries []model.Entry) error
}

// Options configures a Sweeper.
type Options struct {
	// Interval is the periodic sweep cadence. <= 0 disables the ticker and
	// sweeps run only on Notify.
	Interval time.Duration
	// PersistRetries is how many extra attempts to persist a batch after the
	// first failure.
	PersistRetries int
	// PersistBackoff is the wait between persist attempts.
	PersistBackoff time.Duration
	// Clock defaults to the real clock; tests inject a fake one.
	Clock clockwork.Clock
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Sweeper serializes eviction sweeps on one goroutine. Ingestion notifies it
// after each batch; the sweep evicts under the cache's own lock, then
// persists outside it, so a slow or failing store write never blocks
// ingestion or queries.
//
// Eviction is never rolled back: if the store stays unavailable through all
// retries the batch is dropped from the durable record and counted in
// DroppedBatches.
type Sweeper struct {
	cache   Evictor
	persist Persister
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	notify  chan struct{}

	sweeps         atomic.Int64
	persisted      atomic.Int64
	persistErrs    atomic.Int64
	droppedBatches atomic.Int64
	droppedEntries atomic.Int64
}

// New creates a Sweeper. Run must be called to start the consumer loop.
func New(cache Evictor, persist Persister, opts Options) *Sweeper {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		cache:   cache,
		persist: persist,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		notify:  make(chan struct{}, 1),
	}
}

// Notify schedules a sweep. Non-blocking; a sweep already pending absorbs
// the signal.
func (s *Sweeper) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run consumes notifications and ticker events until ctx is cancelled.
// On shutdown it runs one final sweep so entries already past the window
// reach the store.
func (s *Sweeper) Run(ctx context.Context) {
	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := s.clock.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			s.Sweep(context.Background())
			return
		case <-s.notify:
			s.Sweep(ctx)
		case <-tick:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction sweep and persists the result. Returns the number
// of entries evicted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted := s.cache.Evict()
	s.sweeps.Add(1)
	if len(evicted) == 0 {
		return 0
	}

	if err := s.persistWithRetry(ctx, evicted); err != nil {
		s.droppedBatches.Add(1)
		s.droppedEntries.Add(int64(len(evicted)))
		s.logger.Error("dropping evicted batch after failed persistence",
			"count", len(evicted), "err", err)
		return len(evicted)
	}

	s.persisted.Add(int64(len(evicted)))
	s.logger.Debug("sweep persisted", "count", len(evicted))
	return len(evicted)
}

func (s *Sweeper) persistWithRetry(ctx context.Context, batch []model.Entry) error {
	var err error
	for attempt := 0; attempt <= s.opts.PersistRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying persist of evicted batch",
				"attempt", attempt, "count", len(batch), "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.opts.PersistBackoff):
			}
		}
		if err = s.persist.Persist(ctx, batch); err == nil {
			return nil
		}
		s.persistErrs.Add(1)
	}
	return err
}

// Stats is a snapshot of sweeper counters.
type Stats struct {
	Sweeps         int64 `json:"sweeps"`
	Persisted      int64 `json:"persisted"`
	PersistErrors  int64 `json:"persist_errors"`
	DroppedBatches int64 `json:"dropped_batches"`
	DroppedEntries int64 `json:"dropped_entries"`
}

// GetStats returns current counters.
func (s *Sweeper) GetStats() Stats {
	return Stats{
		Sweeps:         s.sweeps.Load(),
		Persisted:      s.persisted.Load(),
		PersistErrors:  s.persistErrs.Load(),
		DroppedBatches: s.droppedBatches.Load(),
		DroppedEntries: s.droppedEntries.Load(),
	}
}
