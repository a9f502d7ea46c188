package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tidelog/tidelog/internal/model"
)

type fakeEvictor struct {
	mu      sync.Mutex
	batches [][]model.Entry
}

func (f *fakeEvictor) Evict() []model.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b
}

func (f *fakeEvictor) push(b []model.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
}

type fakePersister struct {
	mu       sync.Mutex
	failures int
	got      [][]model.Entry
	done     chan struct{}
}

func (f *fakePersister) Persist(_ context.Context, entries []model.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}
	f.got = append(f.got, entries)
	if f.done != nil {
		select {
		case f.done <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakePersister) batches() [][]model.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.Entry(nil), f.got...)
}

func someEntries(n int) []model.Entry {
	out := make([]model.Entry, n)
	for i := range out {
		out[i] = model.Entry{Timestamp: time.Unix(int64(i), 0), Tag: "INFO", Message: "m"}
	}
	return out
}

func TestSweeper_SweepPersistsEvicted(t *testing.T) {
	ev := &fakeEvictor{}
	ev.push(someEntries(3))
	ps := &fakePersister{}
	s := New(ev, ps, Options{})

	if n := s.Sweep(context.Background()); n != 3 {
		t.Fatalf("sweep evicted %d; want 3", n)
	}
	if got := ps.batches(); len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("persisted batches = %v", got)
	}

	// Nothing left to evict: no persist call, no error.
	if n := s.Sweep(context.Background()); n != 0 {
		t.Fatalf("second sweep evicted %d; want 0", n)
	}
	if got := ps.batches(); len(got) != 1 {
		t.Fatalf("empty sweep should not persist, got %d batches", len(got))
	}
}

func TestSweeper_RetriesThenSucceeds(t *testing.T) {
	ev := &fakeEvictor{}
	ev.push(someEntries(2))
	ps := &fakePersister{failures: 2}
	s := New(ev, ps, Options{PersistRetries: 3, PersistBackoff: time.Millisecond})

	if n := s.Sweep(context.Background()); n != 2 {
		t.Fatalf("sweep evicted %d; want 2", n)
	}
	if got := ps.batches(); len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("batch not persisted after retries: %v", got)
	}
	st := s.GetStats()
	if st.PersistErrors != 2 || st.DroppedBatches != 0 || st.Persisted != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSweeper_DropsBatchAfterExhaustedRetries(t *testing.T) {
	ev := &fakeEvictor{}
	ev.push(someEntries(4))
	ps := &fakePersister{failures: 100}
	s := New(ev, ps, Options{PersistRetries: 2, PersistBackoff: time.Millisecond})

	s.Sweep(context.Background())

	st := s.GetStats()
	if st.DroppedBatches != 1 || st.DroppedEntries != 4 {
		t.Fatalf("stats = %+v; want one dropped batch of 4", st)
	}
	if got := ps.batches(); len(got) != 0 {
		t.Fatalf("nothing should have been persisted, got %v", got)
	}
}

func TestSweeper_NotifyDrivesRunLoop(t *testing.T) {
	ev := &fakeEvictor{}
	ev.push(someEntries(1))
	ps := &fakePersister{done: make(chan struct{}, 1)}
	s := New(ev, ps, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Notify()
	select {
	case <-ps.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notify did not trigger a sweep")
	}
}

func TestSweeper_TickerDrivesRunLoop(t *testing.T) {
	ev := &fakeEvictor{}
	ev.push(someEntries(1))
	ps := &fakePersister{done: make(chan struct{}, 1)}
	fc := clockwork.NewFakeClock()
	s := New(ev, ps, Options{Interval: 30 * time.Second, Clock: fc})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Wait for the loop to own the ticker, then advance past one interval.
	fc.BlockUntil(1)
	fc.Advance(30 * time.Second)

	select {
	case <-ps.done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not trigger a sweep")
	}
}

func TestSweeper_FinalSweepOnShutdown(t *testing.T) {
	ev := &fakeEvictor{}
	ps := &fakePersister{done: make(chan struct{}, 1)}
	s := New(ev, ps, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Entries become evictable only after the loop started; cancellation must
	// still flush them.
	ev.push(someEntries(2))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit")
	}
	if got := ps.batches(); len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("final sweep missing: %v", got)
	}
}
