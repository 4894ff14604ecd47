package transfer

import (
	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
)

// chunkSender writes fixed-size binary chunks and tracks the channel's
// send buffer against the high and low water marks.
type chunkSender struct {
	ch     Channel
	low    chan struct{}
	buffer []byte
}

func newChunkSender(ch Channel) *chunkSender {
	c := &chunkSender{
		ch:     ch,
		low:    make(chan struct{}, 1),
		buffer: make([]byte, pairing.ChunkSize),
	}

	ch.SetBufferedAmountLowThreshold(pairing.LowWaterMark)
	ch.OnBufferedAmountLow(func() {
		select {
		case c.low <- struct{}{}:
		default:
		}
	})
	return c
}

// Congested reports whether sending must pause until the buffer drains.
func (c *chunkSender) Congested() bool {
	return c.ch.BufferedAmount() >= pairing.HighWaterMark
}

// Drained is signalled when the buffer falls below the low water mark.
func (c *chunkSender) Drained() <-chan struct{} {
	return c.low
}

func (c *chunkSender) Buffer() []byte {
	return c.buffer
}

func (c *chunkSender) Send(data []byte) error {
	return c.ch.Send(codec.Frame{Data: data})
}
