package store

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/m                      last assigned sequence
// - log/e/{ts_be8}{seq_be8}    one entry; ts is sign-flipped big-endian
//
// The sign flip keeps lexicographic order equal to numeric order for the
// full int64 timestamp range. The per-process sequence keeps entries with
// equal timestamps unique and in arrival order.

var (
	metaKey     = []byte("log/m")
	entryPrefix = []byte("log/e/")
)

func appendOrderedInt64(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyEntry builds the key for an entry with the given timestamp (ns) and
// sequence number.
func KeyEntry(ts int64, seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+16)
	k = append(k, entryPrefix...)
	k = appendOrderedInt64(k, ts)
	k = appendBE8(k, seq)
	return k
}

// KeyMeta returns the metadata key holding the last assigned sequence.
func KeyMeta() []byte {
	return metaKey
}

// TimestampFromKey decodes the timestamp from an entry key.
func TimestampFromKey(key []byte) (int64, bool) {
	if len(key) != len(entryPrefix)+16 {
		return 0, false
	}
	raw := binary.BigEndian.Uint64(key[len(entryPrefix):])
	return int64(raw ^ (1 << 63)), true
}
