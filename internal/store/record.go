package store

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: varint tagLen | tag | message | crc32c(tag|message).
// The timestamp lives in the key, not the value.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord serializes an entry's tag and message.
func EncodeRecord(tag, message string) []byte {
	out := make([]byte, 0, 10+len(tag)+len(message)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(tag)))
	out = append(out, tmp[:n]...)
	out = append(out, tag...)
	out = append(out, message...)

	crc := crc32.Update(0, castagnoli, []byte(tag))
	crc = crc32.Update(crc, castagnoli, []byte(message))
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

// DecodeRecord parses a serialized record. Returns false on truncation or
// checksum mismatch.
func DecodeRecord(b []byte) (tag, message string, ok bool) {
	if len(b) < 1+4 {
		return "", "", false
	}
	tlen, n := binary.Uvarint(b)
	// Bound tlen before converting to int: a huge decoded length would wrap
	// negative and slip past the truncation check.
	if n <= 0 || tlen > uint64(len(b)) || n+int(tlen)+4 > len(b) {
		return "", "", false
	}
	tagB := b[n : n+int(tlen)]
	msgB := b[n+int(tlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, tagB)
	crc = crc32.Update(crc, castagnoli, msgB)
	if crc != expect {
		return "", "", false
	}
	return string(tagB), string(msgB), true
}
