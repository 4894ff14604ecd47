package transfer

import (
	"context"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/signaling"
)

// ChannelEventKind identifies a direct channel notification.
type ChannelEventKind int

const (
	ChannelOpen ChannelEventKind = iota + 1
	ChannelMessage
	ChannelClosed
	ChannelError
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpen:
		return "open"
	case ChannelMessage:
		return "message"
	case ChannelClosed:
		return "closed"
	case ChannelError:
		return "error"
	default:
		return "unknown"
	}
}

// ChannelEvent is delivered by a Channel in the order it happened.
type ChannelEvent struct {
	Kind  ChannelEventKind
	Frame codec.Frame
	Err   error
}

// Channel is an ordered, reliable, bidirectional message channel between
// the two peers. Implementations deliver events through a bounded queue so
// a slow consumer pauses the remote sender instead of dropping frames.
type Channel interface {
	Events() <-chan ChannelEvent
	Send(fr codec.Frame) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
	Close() error
}

// Negotiator is one in-progress attempt at opening a Channel.
type Negotiator interface {
	// HandleSignal applies a remote answer or candidate.
	HandleSignal(sig signaling.SignalPayload) error
	Channel() Channel
	Close() error
}

// Connector builds negotiators. Local signals to relay are passed to send,
// which may be called from any goroutine.
type Connector interface {
	Offer(ctx context.Context, send func(signaling.SignalPayload)) (Negotiator, error)
	Answer(ctx context.Context, offer signaling.SignalPayload, send func(signaling.SignalPayload)) (Negotiator, error)
}

// Signaler is the part of the signaling client a session needs.
type Signaler interface {
	Events() <-chan signaling.Event
	SendSignal(code string, sig signaling.SignalPayload) error
}
