package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tidelog/tidelog/internal/model"
)

var ErrInvalidHeader = errors.New("invalid .tlog file header")

// Info summarizes a snapshot file's footer.
type Info struct {
	Rows  uint32
	MinTs int64
	MaxTs int64
}

// Filter restricts which rows ReadSnapshot returns. Zero values mean no
// constraint; Min/Max are closed bounds in nanoseconds.
type Filter struct {
	MinTime int64
	MaxTime int64
	Tag     string
}

// Reader decodes .tlog snapshot files.
type Reader struct {
	decoder *zstd.Decoder
}

// NewReader creates a Reader with a reusable zstd decoder.
func NewReader() (*Reader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Reader{decoder: dec}, nil
}

// Inspect reads only the header and footer of a snapshot file.
func (r *Reader) Inspect(filename string) (Info, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return readFooter(f)
}

// ReadSnapshot returns the rows of a snapshot file matching filter, in
// stored order.
func (r *Reader) ReadSnapshot(filename string, filter Filter) ([]model.Entry, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	if info.Rows == 0 {
		return nil, nil
	}
	// Whole-file pruning on the footer bounds.
	if filter.MinTime > 0 && info.MaxTs < filter.MinTime {
		return nil, nil
	}
	if filter.MaxTime > 0 && info.MinTs > filter.MaxTime {
		return nil, nil
	}

	if _, err := f.Seek(int64(len(MagicHeader)), io.SeekStart); err != nil {
		return nil, err
	}

	tsData, err := r.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	timestamps := bytesToInt64Slice(tsData)

	tagData, err := r.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	tags := bytesToStringSlice(tagData)

	msgData, err := r.readAndDecompress(f)
	if err != nil {
		return nil, err
	}
	messages := bytesToStringSlice(msgData)

	if int(info.Rows) != len(timestamps) || len(timestamps) != len(tags) || len(tags) != len(messages) {
		return nil, errors.New("column length mismatch")
	}

	var out []model.Entry
	for i := range timestamps {
		ts := timestamps[i]
		if filter.MinTime > 0 && ts < filter.MinTime {
			continue
		}
		if filter.MaxTime > 0 && ts > filter.MaxTime {
			continue
		}
		if filter.Tag != "" && tags[i] != filter.Tag {
			continue
		}
		out = append(out, model.Entry{Timestamp: time.Unix(0, ts), Tag: tags[i], Message: messages[i]})
	}
	return out, nil
}

func readFooter(f *os.File) (Info, error) {
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return Info{}, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return Info{}, ErrInvalidHeader
	}

	// Footer: RowCount(4) + MinTs(8) + MaxTs(8) = 20 bytes.
	stat, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	if stat.Size() < int64(len(MagicHeader))+20 {
		return Info{}, errors.New("file too small")
	}

	footer := make([]byte, 20)
	if _, err := f.ReadAt(footer, stat.Size()-20); err != nil {
		return Info{}, err
	}
	return Info{
		Rows:  binary.LittleEndian.Uint32(footer[0:4]),
		MinTs: int64(binary.LittleEndian.Uint64(footer[4:12])),
		MaxTs: int64(binary.LittleEndian.Uint64(footer[12:20])),
	}, nil
}

func (r *Reader) readAndDecompress(f io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(f, compressed); err != nil {
		return nil, err
	}
	return r.decoder.DecodeAll(compressed, nil)
}

func bytesToInt64Slice(data []byte) []int64 {
	count := len(data) / 8
	result := make([]int64, count)
	for i := 0; i < count; i++ {
		result[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return result
}

// bytesToStringSlice decodes [Len uint32][Bytes]... values.
func bytesToStringSlice(data []byte) []string {
	var result []string
	buf := bytes.NewReader(data)

	for buf.Len() > 0 {
		var length uint32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			break
		}
		strBytes := make([]byte, length)
		if _, err := io.ReadFull(buf, strBytes); err != nil {
			break
		}
		result = append(result, string(strBytes))
	}
	return result
}
