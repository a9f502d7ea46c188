// Package archive reads and writes compressed columnar snapshot files
// (.tlog) for offline export of persisted log entries.
package archive

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/tidelog/tidelog/internal/model"
)

// MagicHeader identifies a .tlog snapshot file.
var MagicHeader = []byte("TIDELOG1")

// Writer serializes entries into the .tlog columnar format: magic header,
// three zstd-compressed columns (timestamps, tags, messages), then a footer
// with row count and min/max timestamp.
type Writer struct {
	encoder *zstd.Encoder
}

// NewWriter creates a Writer with a reusable zstd encoder.
func NewWriter() (*Writer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Writer{encoder: enc}, nil
}

// WriteSnapshot writes entries to filename. Entries are expected in time
// order; min/max in the footer are taken from the first and last row.
func (w *Writer) WriteSnapshot(filename string, entries []model.Entry) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(MagicHeader); err != nil {
		return err
	}

	rowCount := uint32(len(entries))
	if rowCount == 0 {
		return writeFooter(f, 0, 0, 0)
	}

	minTs := entries[0].Key()
	maxTs := entries[rowCount-1].Key()

	ts := make([]int64, rowCount)
	tags := make([]string, rowCount)
	msgs := make([]string, rowCount)
	for i, e := range entries {
		ts[i] = e.Key()
		tags[i] = e.Tag
		msgs[i] = e.Message
	}

	if err := w.writeInt64Col(f, ts); err != nil {
		return err
	}
	if err := w.writeStringCol(f, tags); err != nil {
		return err
	}
	if err := w.writeStringCol(f, msgs); err != nil {
		return err
	}

	return writeFooter(f, rowCount, minTs, maxTs)
}

func (w *Writer) writeInt64Col(f *os.File, data []int64) error {
	buf := new(bytes.Buffer)
	for _, v := range data {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return w.compressAndWrite(f, buf.Bytes())
}

func (w *Writer) writeStringCol(f *os.File, data []string) error {
	// [Len uint32][Bytes] per value.
	buf := new(bytes.Buffer)
	for _, s := range data {
		binary.Write(buf, binary.LittleEndian, uint32(len(s)))
		buf.WriteString(s)
	}
	return w.compressAndWrite(f, buf.Bytes())
}

func (w *Writer) compressAndWrite(f *os.File, raw []byte) error {
	compressed := w.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	size := uint32(len(compressed))
	if err := binary.Write(f, binary.LittleEndian, size); err != nil {
		return err
	}
	_, err := f.Write(compressed)
	return err
}

func writeFooter(f *os.File, rowCount uint32, minTs, maxTs int64) error {
	if err := binary.Write(f, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, maxTs)
}
