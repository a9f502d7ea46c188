package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidelog/tidelog/internal/model"
)

func testEntries(n int) []model.Entry {
	base := time.Unix(1000, 0)
	out := make([]model.Entry, n)
	for i := range out {
		tag := "INFO"
		if i%3 == 0 {
			tag = "ERROR"
		}
		out[i] = model.Entry{Timestamp: base.Add(time.Duration(i) * time.Second), Tag: tag, Message: fmt.Sprintf("m%d", i)}
	}
	return out
}

func TestArchive_Roundtrip(t *testing.T) {
	w, err := NewWriter()
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	r, err := NewReader()
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.tlog")
	entries := testEntries(20)
	if err := w.WriteSnapshot(path, entries); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	got, err := r.ReadSnapshot(path, Filter{})
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d rows; want %d", len(got), len(entries))
	}
	for i := range entries {
		if !got[i].Equal(entries[i]) {
			t.Fatalf("row %d mismatch: got %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestArchive_Inspect(t *testing.T) {
	w, _ := NewWriter()
	r, _ := NewReader()

	path := filepath.Join(t.TempDir(), "snap.tlog")
	entries := testEntries(5)
	if err := w.WriteSnapshot(path, entries); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	info, err := r.Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Rows != 5 {
		t.Fatalf("rows = %d; want 5", info.Rows)
	}
	if info.MinTs != entries[0].Key() || info.MaxTs != entries[4].Key() {
		t.Fatalf("footer bounds = (%d,%d)", info.MinTs, info.MaxTs)
	}
}

func TestArchive_FilterByTimeAndTag(t *testing.T) {
	w, _ := NewWriter()
	r, _ := NewReader()

	path := filepath.Join(t.TempDir(), "snap.tlog")
	entries := testEntries(20)
	if err := w.WriteSnapshot(path, entries); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	got, err := r.ReadSnapshot(path, Filter{
		MinTime: entries[5].Key(),
		MaxTime: entries[10].Key(),
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("time filter returned %d rows; want 6", len(got))
	}

	got, err = r.ReadSnapshot(path, Filter{Tag: "ERROR"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, e := range got {
		if e.Tag != "ERROR" {
			t.Fatalf("tag filter leaked %q", e.Tag)
		}
	}
	if len(got) != 7 {
		t.Fatalf("tag filter returned %d rows; want 7", len(got))
	}
}

func TestArchive_EmptySnapshot(t *testing.T) {
	w, _ := NewWriter()
	r, _ := NewReader()

	path := filepath.Join(t.TempDir(), "empty.tlog")
	if err := w.WriteSnapshot(path, nil); err != nil {
		t.Fatalf("write empty snapshot: %v", err)
	}
	got, err := r.ReadSnapshot(path, Filter{})
	if err != nil || got != nil {
		t.Fatalf("empty snapshot read = %v, %v", got, err)
	}
}

func TestArchive_RejectsForeignFile(t *testing.T) {
	r, _ := NewReader()
	path := filepath.Join(t.TempDir(), "bogus.tlog")
	if err := os.WriteFile(path, []byte("NOTALOGFILE-but-long-enough-for-a-footer"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Inspect(path); err != ErrInvalidHeader {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}
