package model

import (
	"time"
)

// Entry represents a single timestamped log record.
// Entries are immutable after construction; ordering is by Timestamp only,
// with arrival order preserved between entries sharing a timestamp.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
}

// Key returns the cache/store key for the entry: nanoseconds since epoch.
// Entries compare equal on Key iff their timestamps are identical to the
// nanosecond.
func (e Entry) Key() int64 {
	return e.Timestamp.UnixNano()
}

// Equal reports structural equality on all three fields.
func (e Entry) Equal(other Entry) bool {
	return e.Timestamp.Equal(other.Timestamp) && e.Tag == other.Tag && e.Message == other.Message
}
