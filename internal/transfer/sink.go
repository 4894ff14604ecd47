package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/utils"
)

// Sink receives payload bytes. Finalize makes the result durable and
// returns where it ended up; Discard throws partial data away.
type Sink interface {
	Write(p []byte) (int, error)
	Finalize() (string, error)
	Discard() error
}

// SinkFactory opens a Sink once metadata has been accepted.
type SinkFactory func(meta codec.Metadata) (Sink, error)

// DefaultSinks keeps text in memory and writes files into dir.
func DefaultSinks(dir string) SinkFactory {
	return func(meta codec.Metadata) (Sink, error) {
		if meta.Type == codec.KindText {
			return NewTextSink(), nil
		}
		return NewFileSink(dir, meta.Filename)
	}
}

// FileSink writes into a hidden temp file in the destination directory and
// renames it onto a freshly reserved final name on Finalize.
type FileSink struct {
	dir     string
	name    string
	file    *os.File
	written int64
	closed  bool
}

func NewFileSink(dir, name string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, ".pinq-*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &FileSink{dir: dir, name: utils.SanitizeFilename(name), file: file}, nil
}

func (w *FileSink) Write(data []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.file.Write(data)
	w.written += int64(n)
	return n, err
}

// Written returns the number of bytes accepted so far.
func (w *FileSink) Written() int64 {
	return w.written
}

// TempPath is the partial file's location until Finalize.
func (w *FileSink) TempPath() string {
	return w.file.Name()
}

func (w *FileSink) Finalize() (string, error) {
	if w.closed {
		return "", os.ErrClosed
	}
	w.closed = true

	tmp := w.file.Name()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync %s: %w", w.name, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", w.name, err)
	}

	// The reserved file is ours, so the rename only ever replaces it.
	final, err := utils.ReserveFilename(w.dir, w.name)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("reserve name for %s: %w", w.name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		os.Remove(final)
		return "", fmt.Errorf("rename to %s: %w", final, err)
	}
	return final, nil
}

func (w *FileSink) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true

	tmp := w.file.Name()
	w.file.Close()
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ErrTextTooLarge is returned by TextSink once the limit is exceeded.
var ErrTextTooLarge = errors.New("text exceeds the size limit")

// TextSink collects a text payload in memory.
type TextSink struct {
	buf   bytes.Buffer
	limit int
}

func NewTextSink() *TextSink {
	return &TextSink{limit: pairing.MaxPayloadSize}
}

func (t *TextSink) Write(p []byte) (int, error) {
	if t.buf.Len()+len(p) > t.limit {
		return 0, ErrTextTooLarge
	}
	return t.buf.Write(p)
}

// Finalize returns the collected text.
func (t *TextSink) Finalize() (string, error) {
	return t.buf.String(), nil
}

func (t *TextSink) Discard() error {
	t.buf.Reset()
	return nil
}
