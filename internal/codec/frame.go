package codec

import (
	"bytes"

	"github.com/kkrugley/pinq/internal/pairing"
)

// Frame is one message on the direct channel. Text frames carry metadata
// and control markers; payload chunks travel as binary frames.
type Frame struct {
	Data []byte
	Text bool
}

// Control sentinels. Only the canonical spelling is ever sent; the legacy
// one is still recognized from older peers.
const (
	EndMarker       = "__PINQ_EOF__"
	LegacyEndMarker = "EOF"
	AckMarker       = "__PINQ_ACK__"
	LegacyAckMarker = "ACK"
)

// Class is the result of classifying an inbound frame.
type Class int

const (
	ClassData Class = iota
	ClassEnd
	ClassAck
)

func (c Class) String() string {
	switch c {
	case ClassEnd:
		return "end"
	case ClassAck:
		return "ack"
	default:
		return "data"
	}
}

// EndFrame returns the end-of-payload marker.
func EndFrame() Frame {
	return Frame{Data: []byte(EndMarker), Text: true}
}

// AckFrame returns the acknowledgement marker.
func AckFrame() Frame {
	return Frame{Data: []byte(AckMarker), Text: true}
}

// IsEndMarker reports whether b spells an end-of-payload marker.
func IsEndMarker(b []byte) bool {
	return bytes.Equal(b, []byte(EndMarker)) || bytes.Equal(b, []byte(LegacyEndMarker))
}

// IsAckMarker reports whether b spells an acknowledgement marker.
func IsAckMarker(b []byte) bool {
	return bytes.Equal(b, []byte(AckMarker)) || bytes.Equal(b, []byte(LegacyAckMarker))
}

// Classify normalizes both marker spellings. Binary frames are always
// data, so a chunk that happens to contain "EOF" is never mistaken for a
// marker.
func Classify(fr Frame) Class {
	if !fr.Text {
		return ClassData
	}
	switch {
	case IsEndMarker(fr.Data):
		return ClassEnd
	case IsAckMarker(fr.Data):
		return ClassAck
	default:
		return ClassData
	}
}

// ChunkCount returns how many chunks a payload of size bytes is split into.
func ChunkCount(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + pairing.ChunkSize - 1) / pairing.ChunkSize
}
