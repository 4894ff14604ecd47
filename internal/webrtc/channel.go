package webrtc

import (
	"errors"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/transfer"
)

// eventBuffer bounds queued events. When it fills, pion's read loop blocks
// in OnMessage, which stops SCTP reads and pushes back on the sender.
const eventBuffer = 64

var errChannelNotOpen = errors.New("data channel not open")

// DataChannel adapts a pion data channel to transfer.Channel. The answering
// side creates it before the remote channel exists and binds it later.
type DataChannel struct {
	events chan transfer.ChannelEvent
	done   chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once

	mu        sync.Mutex
	dc        *pion.DataChannel
	threshold uint64
	onLow     func()
}

func newDataChannel() *DataChannel {
	return &DataChannel{
		events: make(chan transfer.ChannelEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// bind attaches the pion channel and wires its callbacks.
func (c *DataChannel) bind(dc *pion.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	if c.threshold > 0 {
		dc.SetBufferedAmountLowThreshold(c.threshold)
	}
	if c.onLow != nil {
		dc.OnBufferedAmountLow(c.onLow)
	}
	c.mu.Unlock()

	dc.OnOpen(c.opened)
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		// Open must be observed before the first message.
		c.opened()
		c.emit(transfer.ChannelEvent{
			Kind:  transfer.ChannelMessage,
			Frame: codec.Frame{Data: msg.Data, Text: msg.IsString},
		})
	})
	dc.OnClose(func() {
		c.emit(transfer.ChannelEvent{Kind: transfer.ChannelClosed})
	})
	dc.OnError(func(err error) {
		c.emit(transfer.ChannelEvent{Kind: transfer.ChannelError, Err: err})
	})
}

func (c *DataChannel) opened() {
	c.openOnce.Do(func() {
		c.emit(transfer.ChannelEvent{Kind: transfer.ChannelOpen})
	})
}

// fail reports a transport failure seen outside the data channel.
func (c *DataChannel) fail(err error) {
	c.emit(transfer.ChannelEvent{Kind: transfer.ChannelError, Err: err})
}

func (c *DataChannel) emit(ev transfer.ChannelEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *DataChannel) Events() <-chan transfer.ChannelEvent {
	return c.events
}

func (c *DataChannel) channel() *pion.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

func (c *DataChannel) Send(fr codec.Frame) error {
	dc := c.channel()
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return errChannelNotOpen
	}
	if fr.Text {
		return dc.SendText(string(fr.Data))
	}
	return dc.Send(fr.Data)
}

func (c *DataChannel) BufferedAmount() uint64 {
	if dc := c.channel(); dc != nil {
		return dc.BufferedAmount()
	}
	return 0
}

func (c *DataChannel) SetBufferedAmountLowThreshold(th uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = th
	if c.dc != nil {
		c.dc.SetBufferedAmountLowThreshold(th)
	}
}

func (c *DataChannel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLow = f
	if c.dc != nil {
		c.dc.OnBufferedAmountLow(f)
	}
}

// Close stops event delivery and closes the pion channel.
func (c *DataChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if dc := c.channel(); dc != nil {
			err = dc.Close()
		}
	})
	return err
}
