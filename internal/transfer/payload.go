package transfer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/files"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/utils"
)

// Payload is what a Sender streams: the metadata frame plus a way to read
// the bytes it describes.
type Payload struct {
	Metadata codec.Metadata
	open     func() (io.ReadCloser, error)
}

// NewPayload validates meta and checks the size limit before anything is
// sent.
func NewPayload(meta codec.Metadata, open func() (io.ReadCloser, error)) (*Payload, error) {
	if meta.Size > pairing.MaxPayloadSize {
		return nil, WrapError("prepare payload", ErrPayloadTooLarge,
			fmt.Sprintf("%s exceeds the %s limit", utils.FormatSize(meta.Size), utils.FormatSize(pairing.MaxPayloadSize)))
	}
	if err := meta.Validate(); err != nil {
		return nil, NewError("prepare payload", err)
	}
	return &Payload{Metadata: meta, open: open}, nil
}

// NewTextPayload wraps a text message.
func NewTextPayload(text string) (*Payload, error) {
	meta := codec.Metadata{Type: codec.KindText, Size: int64(len(text))}
	return NewPayload(meta, func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(text)), nil
	})
}

// NewFilePayload describes the file at path. The file is opened again
// when streaming starts.
func NewFilePayload(path string) (*Payload, error) {
	info, err := files.ValidateFile(path)
	if err != nil {
		return nil, NewError("prepare payload", err)
	}

	meta := codec.Metadata{
		Type:     codec.KindFile,
		Filename: info.Name,
		Size:     info.Size,
		MimeType: info.Type,
	}
	return NewPayload(meta, func() (io.ReadCloser, error) {
		return os.Open(info.Path)
	})
}

// Open returns a fresh reader over the payload bytes.
func (p *Payload) Open() (io.ReadCloser, error) {
	return p.open()
}
