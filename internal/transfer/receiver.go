package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/signaling"
)

// Receiver drives the answering side: wait for the offer, open the
// channel, read metadata, stream chunks into a Sink and acknowledge.
type Receiver struct {
	session
	sinks SinkFactory

	// Confirm, when set, is asked before any sink is opened. Returning
	// false declines the transfer.
	Confirm func(meta codec.Metadata) bool

	candidates []signaling.SignalPayload
}

func NewReceiver(opts Options, sinks SinkFactory) (*Receiver, error) {
	if sinks == nil {
		return nil, errors.New("transfer: nil sink factory")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Receiver{session: newSession("receive", opts), sinks: sinks}, nil
}

func (r *Receiver) Run(ctx context.Context) (*Result, error) {
	r.started = time.Now()
	defer r.detach()

	offer, err := r.waitOffer(ctx)
	if err != nil {
		return nil, r.fail(err, "")
	}

	if err := r.connect(ctx, offer); err != nil {
		return nil, r.fail(err, "")
	}

	meta, err := r.awaitMetadata(ctx)
	if err != nil {
		return nil, r.fail(err, "")
	}
	r.log.Info("metadata received", "type", meta.Type, "filename", meta.Filename, "size", meta.Size)

	if r.Confirm != nil && !r.Confirm(meta) {
		return nil, r.fail(ErrTransferDeclined, "")
	}

	sink, err := r.sinks(meta)
	if err != nil {
		return nil, r.fail(fmt.Errorf("%w: %v", ErrSinkWrite, err), "")
	}

	res, err := r.stream(ctx, meta, sink)
	if err != nil {
		if derr := sink.Discard(); derr != nil {
			r.log.Warn("discard partial data", "error", derr)
		}
		return nil, r.fail(err, "")
	}

	r.acknowledge(ctx)
	res.Duration = time.Since(r.started)
	r.setState(StateClosed)
	return res, nil
}

// waitOffer waits for the sender to show up, unless the join reply already
// listed it, and then for its offer. An offer that arrives first also
// proves the sender is there.
func (r *Receiver) waitOffer(ctx context.Context) (signaling.SignalPayload, error) {
	limit, expired := r.opts.Timeouts.Offer, ErrOfferTimeout
	if r.opts.PeerPresent {
		r.setState(StateAwaitingOffer)
	} else {
		r.setState(StateAwaitingPeer)
		limit, expired = r.opts.Timeouts.PeerJoin, ErrPeerJoinTimeout
	}

	timer := time.NewTimer(limit)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return signaling.SignalPayload{}, ctx.Err()
		case <-timer.C:
			return signaling.SignalPayload{}, expired
		case ev, ok := <-r.signals:
			if !ok {
				r.signals = nil
				return signaling.SignalPayload{}, ErrSignalingLost
			}
			switch {
			case ev.Kind == signaling.EventSignal && ev.Signal.IsOffer():
				return ev.Signal, nil
			case ev.Kind == signaling.EventSignal && ev.Signal.IsCandidate():
				r.candidates = append(r.candidates, ev.Signal)
			case ev.Kind == signaling.EventPeerJoined && r.state == StateAwaitingPeer:
				r.log.Info("peer joined", "peer", ev.PeerID, "clientType", ev.ClientType)
				r.setState(StateAwaitingOffer)
				resetTimer(timer, r.opts.Timeouts.Offer)
				expired = ErrOfferTimeout
			case ev.Kind == signaling.EventSignal, ev.Kind == signaling.EventPeerJoined, ev.Kind == signaling.EventReconnected:
				r.log.Debug("ignored while awaiting offer", "event", ev.Kind, "type", ev.Signal.Type)
			default:
				if err := signalFailure(ev); err != nil {
					return signaling.SignalPayload{}, err
				}
			}
		}
	}
}

// connect answers offers until a channel opens. A fresh offer during an
// attempt means the sender restarted, so the attempt is redone.
func (r *Receiver) connect(ctx context.Context, offer signaling.SignalPayload) error {
	restartOn := func(ev signaling.Event) bool {
		return ev.Kind == signaling.EventSignal && ev.Signal.IsOffer()
	}

	for attempt := 1; ; attempt++ {
		if attempt > r.opts.Timeouts.MaxConnectAttempts {
			return ErrConnectRetriesExhausted
		}
		r.setState(StateConnecting)

		neg, err := r.opts.Connector.Answer(ctx, offer, r.relay)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		r.attach(neg)

		for _, c := range r.candidates {
			if err := neg.HandleSignal(c); err != nil {
				r.log.Debug("apply buffered candidate", "error", err)
			}
		}
		r.candidates = nil

		trigger, err := r.waitOpen(ctx, restartOn)
		if err != nil {
			return err
		}
		if trigger == nil {
			return nil
		}
		r.log.Info("sender restarted the handshake", "attempt", attempt)
		r.detach()
		offer = trigger.Signal
	}
}

func (r *Receiver) awaitMetadata(ctx context.Context) (codec.Metadata, error) {
	r.setState(StateAwaitingMetadata)

	timer := time.NewTimer(r.opts.Timeouts.Metadata)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return codec.Metadata{}, ctx.Err()

		case <-timer.C:
			return codec.Metadata{}, ErrMetadataTimeout

		case ev, ok := <-r.ch.Events():
			if ok && ev.Kind == ChannelMessage {
				return r.decodeMetadata(ev.Frame)
			}
			if err := channelGone(ev, ok); err != nil {
				return codec.Metadata{}, err
			}

		case sev, ok := <-r.signals:
			r.lateSignal(sev, ok)
		}
	}
}

// decodeMetadata accepts JSON text frames always and msgpack binary frames
// when the peer is expected to send them. Anything else arrived too early.
func (r *Receiver) decodeMetadata(fr codec.Frame) (codec.Metadata, error) {
	if fr.Text && codec.Classify(fr) != codec.ClassData {
		return codec.Metadata{}, fmt.Errorf("%w: marker %q", ErrUnexpectedData, fr.Data)
	}
	if !fr.Text && r.opts.Format != codec.FormatMsgpack {
		return codec.Metadata{}, fmt.Errorf("%w: %d byte binary frame", ErrUnexpectedData, len(fr.Data))
	}
	return codec.DecodeMetadata(fr)
}

func (r *Receiver) stream(ctx context.Context, meta codec.Metadata, sink Sink) (*Result, error) {
	r.setState(StateStreaming)

	checkSize := meta.Type == codec.KindFile || meta.Size > 0
	res := &Result{Metadata: meta}

	idle := time.NewTimer(r.opts.Timeouts.Idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-idle.C:
			return nil, fmt.Errorf("%w: no data for %s", ErrTransferAborted, r.opts.Timeouts.Idle)

		case sev, ok := <-r.signals:
			r.lateSignal(sev, ok)

		case ev, ok := <-r.ch.Events():
			if !ok || ev.Kind != ChannelMessage {
				if err := channelGone(ev, ok); err != nil {
					return nil, fmt.Errorf("%w before end marker", err)
				}
				continue
			}
			resetTimer(idle, r.opts.Timeouts.Idle)

			switch codec.Classify(ev.Frame) {
			case codec.ClassEnd:
				if checkSize && res.Bytes != meta.Size {
					return nil, fmt.Errorf("%w: received %d of %d bytes", ErrTransferAborted, res.Bytes, meta.Size)
				}
				out, err := sink.Finalize()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrSinkWrite, err)
				}
				res.Output = out
				r.log.Debug("end marker received", "bytes", res.Bytes, "chunks", res.Chunks)
				return res, nil

			case codec.ClassAck:
				r.log.Debug("unexpected ack while streaming")

			default:
				n := int64(len(ev.Frame.Data))
				if checkSize && res.Bytes+n > meta.Size {
					return nil, fmt.Errorf("%w: more data than the %d bytes announced", ErrTransferAborted, meta.Size)
				}
				if _, err := sink.Write(ev.Frame.Data); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrSinkWrite, err)
				}
				res.Bytes += n
				res.Chunks++
				r.observer.Progress(res.Bytes, meta.Size)
			}
		}
	}
}

// acknowledge sends the ack and lingers briefly so it is flushed before
// the channel is torn down. Failures here are logged, not returned: the
// payload is already saved.
func (r *Receiver) acknowledge(ctx context.Context) {
	r.setState(StateSendingAck)

	if err := r.ch.Send(codec.AckFrame()); err != nil {
		r.log.Warn("send ack", "error", err)
		return
	}

	linger := time.NewTimer(r.opts.Timeouts.Linger)
	defer linger.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-linger.C:
			return
		case ev, ok := <-r.ch.Events():
			if !ok || ev.Kind == ChannelClosed || ev.Kind == ChannelError {
				return
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
