// Package store persists evicted log entries in Pebble and answers the
// historical range queries the cache can no longer satisfy.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tidelog/tidelog/internal/model"
)

// LogStore is the system of record for entries evicted from the cache.
// Entries are keyed by timestamp plus an arrival sequence, so a range scan
// yields them in time order with arrival order preserved inside equal
// timestamps.
type LogStore struct {
	db     *DB
	logger *slog.Logger

	mu      sync.Mutex
	lastSeq uint64
}

// Open opens (or creates) a LogStore backed by a Pebble database in dataDir.
func Open(dataDir string, fsync FsyncMode, logger *slog.Logger) (*LogStore, error) {
	return OpenWithOptions(DBOptions{DataDir: dataDir, Fsync: fsync}, logger)
}

// OpenWithOptions is Open with full control over the database options.
func OpenWithOptions(opts DBOptions, logger *slog.Logger) (*LogStore, error) {
	db, err := OpenDB(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &LogStore{db: db, logger: logger}
	meta, err := db.Get(KeyMeta())
	if err == nil && len(meta) >= 8 {
		s.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		db.Close()
		return nil, fmt.Errorf("load store meta: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *LogStore) Close() error {
	return s.db.Close()
}

// Persist writes the batch of entries atomically, in the given order.
// An empty batch is a no-op.
func (s *LogStore) Persist(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	for _, e := range entries {
		s.lastSeq++
		val := EncodeRecord(e.Tag, e.Message)
		if err := b.Set(KeyEntry(e.Key(), s.lastSeq), val, nil); err != nil {
			return err
		}
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], s.lastSeq)
	if err := b.Set(KeyMeta(), meta[:], nil); err != nil {
		return err
	}

	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("persist %d entries: %w", len(entries), err)
	}

	s.logger.Debug("persisted evicted entries",
		"count", len(entries),
		"from", entries[0].Timestamp,
		"to", entries[len(entries)-1].Timestamp)
	return nil
}

// Query returns all persisted entries with start <= timestamp <= end
// (nanoseconds, closed interval), ascending by timestamp and in persist
// order within equal timestamps. Records failing checksum validation are
// skipped and logged, never fatal.
func (s *LogStore) Query(ctx context.Context, start, end int64) ([]model.Entry, error) {
	if start > end {
		return nil, nil
	}

	lower := KeyEntry(start, 0)
	upper := KeyEntry(end, ^uint64(0))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: append(upper, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.Entry
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ts, ok2 := TimestampFromKey(iter.Key())
		if !ok2 {
			continue
		}
		tag, msg, ok2 := DecodeRecord(iter.Value())
		if !ok2 {
			s.logger.Warn("skipping corrupt record", "key", fmt.Sprintf("%x", iter.Key()))
			continue
		}
		out = append(out, model.Entry{Timestamp: time.Unix(0, ts), Tag: tag, Message: msg})
	}
	return out, iter.Error()
}

// Scan streams every persisted entry in [start, end] to fn in key order.
// Scanning stops early if fn returns an error.
func (s *LogStore) Scan(ctx context.Context, start, end int64, fn func(model.Entry) error) error {
	lower := KeyEntry(start, 0)
	upper := KeyEntry(end, ^uint64(0))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: append(upper, 0x00)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ts, ok2 := TimestampFromKey(iter.Key())
		if !ok2 {
			continue
		}
		tag, msg, ok2 := DecodeRecord(iter.Value())
		if !ok2 {
			continue
		}
		if err := fn(model.Entry{Timestamp: time.Unix(0, ts), Tag: tag, Message: msg}); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Count returns the number of persisted entries.
func (s *LogStore) Count(ctx context.Context) (int64, error) {
	upper := KeyEntry(int64(^uint64(0)>>1), ^uint64(0))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryPrefix,
		UpperBound: append(upper, 0x00),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n int64
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, iter.Error()
}
