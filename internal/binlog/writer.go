package binlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends records to a channel log file.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	buf []byte
	n   uint64
}

// Create truncates (or creates) path and its parent directory.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create channel log: %w", err)
	}
	return &Writer{f: f, w: bufio.NewWriterSize(f, 64*RecordSize), buf: make([]byte, RecordSize)}, nil
}

// Write encodes and buffers one record.
func (w *Writer) Write(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	r.MarshalTo(w.buf)
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count reports how many records were written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// Reader decodes records sequentially.
type Reader struct {
	r   io.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), buf: make([]byte, RecordSize)}
}

// Next decodes the next record. It returns io.EOF at a clean end and
// io.ErrUnexpectedEOF for a truncated trailing record.
func (r *Reader) Next(rec *Record) error {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return err
	}
	rec.Unmarshal(r.buf)
	return nil
}

// ReadAll decodes every record of the log at path.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rd := NewReader(f)
	var out []Record
	for {
		var rec Record
		err := rd.Next(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
