package store

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestRecord_Roundtrip(t *testing.T) {
	cases := []struct {
		tag, msg string
	}{
		{"INFO", "service started"},
		{"", ""},
		{"ERROR", strings.Repeat("x", 4096)},
		{"tag/with/slashes", "unicode: héllo 世界"},
	}

	for _, c := range cases {
		b := EncodeRecord(c.tag, c.msg)
		tag, msg, ok := DecodeRecord(b)
		if !ok {
			t.Fatalf("decode failed for tag=%q", c.tag)
		}
		if tag != c.tag || msg != c.msg {
			t.Fatalf("roundtrip mismatch: got (%q,%q), want (%q,%q)", tag, msg, c.tag, c.msg)
		}
	}
}

func TestRecord_DetectsCorruption(t *testing.T) {
	b := EncodeRecord("WARN", "disk almost full")
	b[len(b)/2] ^= 0xff
	if _, _, ok := DecodeRecord(b); ok {
		t.Fatal("corrupted record decoded successfully")
	}
}

func TestRecord_RejectsTruncated(t *testing.T) {
	b := EncodeRecord("INFO", "hello")
	for i := 0; i < 5 && i < len(b); i++ {
		if _, _, ok := DecodeRecord(b[:i]); ok {
			t.Fatalf("truncated record of %d bytes decoded successfully", i)
		}
	}

	// A tag length claiming more bytes than the record holds must be
	// rejected, including lengths past the int overflow boundary.
	var huge [10]byte
	n := binary.PutUvarint(huge[:], 1<<63)
	malformed := append(huge[:n], 0xde, 0xad, 0xbe, 0xef)
	if _, _, ok := DecodeRecord(malformed); ok {
		t.Fatal("record with overflowing tag length decoded successfully")
	}

	inflated := append([]byte{0x7f}, []byte("short")...)
	if _, _, ok := DecodeRecord(inflated); ok {
		t.Fatal("record with inflated tag length decoded successfully")
	}
}
