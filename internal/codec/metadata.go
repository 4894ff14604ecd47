package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kkrugley/pinq/internal/pairing"
)

// ErrDecode is returned when a frame cannot be decoded as metadata.
var ErrDecode = errors.New("decode error")

// Kind is the payload type announced in the metadata frame.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Metadata is the first frame sent on a direct channel. It tells the
// receiver how to consume the data that follows.
type Metadata struct {
	Type     Kind   `json:"type" msgpack:"type"`
	Filename string `json:"filename,omitempty" msgpack:"filename,omitempty"`
	Size     int64  `json:"size,omitempty" msgpack:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty" msgpack:"mimeType,omitempty"`
}

// Validate checks the fields a receiver relies on.
func (m Metadata) Validate() error {
	switch m.Type {
	case KindText:
	case KindFile:
		if m.Filename == "" {
			return errors.New("file metadata without filename")
		}
	default:
		return fmt.Errorf("unknown payload type %q", m.Type)
	}
	if m.Size < 0 {
		return fmt.Errorf("negative size %d", m.Size)
	}
	return nil
}

// Format selects how the metadata frame is serialized.
type Format int

const (
	// FormatJSON sends metadata as a JSON text frame. Browsers expect it.
	FormatJSON Format = iota

	// FormatMsgpack sends metadata as a msgpack binary frame.
	FormatMsgpack
)

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// SelectFormat picks the metadata format for a peer of the given client
// type. Only CLI peers are known to decode msgpack.
func SelectFormat(peerClientType string) Format {
	if peerClientType == pairing.ClientTypeCLI {
		return FormatMsgpack
	}
	return FormatJSON
}

// EncodeMetadata serializes m in the requested format.
func EncodeMetadata(m Metadata, f Format) (Frame, error) {
	if err := m.Validate(); err != nil {
		return Frame{}, fmt.Errorf("encode metadata: %w", err)
	}

	if f == FormatMsgpack {
		data, err := msgpack.Marshal(&m)
		if err != nil {
			return Frame{}, fmt.Errorf("encode metadata: %w", err)
		}
		return Frame{Data: data}, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return Frame{}, fmt.Errorf("encode metadata: %w", err)
	}
	return Frame{Data: data, Text: true}, nil
}

// DecodeMetadata parses a metadata frame. Text frames are read as JSON and
// binary frames as msgpack, so either side may pick its format.
func DecodeMetadata(fr Frame) (Metadata, error) {
	var m Metadata

	if fr.Text {
		if err := json.Unmarshal(fr.Data, &m); err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	} else {
		dec := msgpack.NewDecoder(bytes.NewReader(fr.Data))
		dec.DisallowUnknownFields(true)
		if err := dec.Decode(&m); err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	if err := m.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}
