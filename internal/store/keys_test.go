package store

import (
	"bytes"
	"testing"
)

func TestKeyEntry_Ordering(t *testing.T) {
	cases := []struct {
		ts  int64
		seq uint64
	}{
		{-100, 5},
		{-1, 0},
		{0, 0},
		{0, 1},
		{1, 0},
		{1_000_000, 9},
		{1_000_000, 10},
		{1<<62 + 7, 0},
	}

	for i := 1; i < len(cases); i++ {
		prev := KeyEntry(cases[i-1].ts, cases[i-1].seq)
		curr := KeyEntry(cases[i].ts, cases[i].seq)
		if bytes.Compare(prev, curr) >= 0 {
			t.Fatalf("key ordering broken between (%d,%d) and (%d,%d)",
				cases[i-1].ts, cases[i-1].seq, cases[i].ts, cases[i].seq)
		}
	}
}

func TestTimestampFromKey_Roundtrip(t *testing.T) {
	for _, ts := range []int64{-42, 0, 1, 1735230000000000000} {
		key := KeyEntry(ts, 123)
		got, ok := TimestampFromKey(key)
		if !ok || got != ts {
			t.Fatalf("roundtrip(%d) = %d, %v", ts, got, ok)
		}
	}
}

func TestTimestampFromKey_RejectsMalformed(t *testing.T) {
	if _, ok := TimestampFromKey([]byte("log/m")); ok {
		t.Fatal("meta key should not decode as an entry key")
	}
	if _, ok := TimestampFromKey(KeyEntry(1, 1)[:10]); ok {
		t.Fatal("truncated key should not decode")
	}
}
