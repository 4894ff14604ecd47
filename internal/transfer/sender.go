package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/signaling"
)

// Sender drives the offering side of a transfer: wait for the receiver,
// open the direct channel, stream the payload and wait for the ack.
type Sender struct {
	session
	payload *Payload
	format  codec.Format
}

// NewSender checks the payload and options. Nothing is sent until Run.
func NewSender(opts Options, payload *Payload) (*Sender, error) {
	if payload == nil {
		return nil, errors.New("transfer: nil payload")
	}
	if _, err := NewPayload(payload.Metadata, payload.open); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Sender{
		session: newSession("send", opts),
		payload: payload,
		format:  opts.Format,
	}, nil
}

// Run performs the whole transfer. On ErrAckTimeout the returned Result is
// still filled in, since the data may have been delivered.
func (s *Sender) Run(ctx context.Context) (*Result, error) {
	s.started = time.Now()
	defer s.detach()

	if !s.opts.PeerPresent {
		if err := s.waitPeer(ctx); err != nil {
			return nil, s.fail(err, "")
		}
	}

	if err := s.connect(ctx); err != nil {
		return nil, s.fail(err, "")
	}

	res, err := s.stream(ctx)
	if err != nil {
		return nil, s.fail(err, "")
	}

	if err := s.awaitAck(ctx); err != nil {
		res.Duration = time.Since(s.started)
		return res, s.fail(err, "")
	}

	res.Duration = time.Since(s.started)
	s.setState(StateClosed)
	s.log.Info("transfer acknowledged", "bytes", res.Bytes, "chunks", res.Chunks, "duration", res.Duration)
	return res, nil
}

func (s *Sender) waitPeer(ctx context.Context) error {
	s.setState(StateAwaitingPeer)

	timer := time.NewTimer(s.opts.Timeouts.PeerJoin)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrPeerJoinTimeout
		case ev, ok := <-s.signals:
			if !ok {
				s.signals = nil
				return ErrSignalingLost
			}
			switch ev.Kind {
			case signaling.EventPeerJoined:
				s.peerJoined(ev)
				return nil
			case signaling.EventPeerDisconnected:
				// A peer leaving while we wait for one changes nothing.
			default:
				if err := signalFailure(ev); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Sender) peerJoined(ev signaling.Event) {
	if ev.ClientType != "" {
		s.format = codec.SelectFormat(ev.ClientType)
	}
	s.log.Info("peer joined", "peer", ev.PeerID, "clientType", ev.ClientType, "format", s.format)
}

// connect offers until a channel opens. A new peer-joined during an attempt
// restarts it; a peer leaving sends us back to waiting for one.
func (s *Sender) connect(ctx context.Context) error {
	restartOn := func(ev signaling.Event) bool {
		return ev.Kind == signaling.EventPeerJoined
	}

	for attempt := 1; ; attempt++ {
		if attempt > s.opts.Timeouts.MaxConnectAttempts {
			return ErrConnectRetriesExhausted
		}
		s.setState(StateConnecting)
		s.log.Debug("creating offer", "attempt", attempt)

		neg, err := s.opts.Connector.Offer(ctx, s.relay)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		s.attach(neg)

		trigger, err := s.waitOpen(ctx, restartOn)
		switch {
		case errors.Is(err, ErrPeerDisconnected):
			s.detach()
			if err := s.waitPeer(ctx); err != nil {
				return err
			}
		case err != nil:
			return err
		case trigger != nil:
			s.detach()
			s.peerJoined(*trigger)
		default:
			return nil
		}
	}
}

func (s *Sender) stream(ctx context.Context) (*Result, error) {
	meta := s.payload.Metadata
	s.setState(StateAwaitingMetadata)

	fr, err := codec.EncodeMetadata(meta, s.format)
	if err != nil {
		return nil, err
	}
	if err := s.ch.Send(fr); err != nil {
		return nil, fmt.Errorf("%w: send metadata: %v", ErrTransferAborted, err)
	}
	s.setState(StateStreaming)

	r, err := s.payload.Open()
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer r.Close()

	cs := newChunkSender(s.ch)
	res := &Result{Metadata: meta}

	for {
		n, readErr := io.ReadFull(r, cs.Buffer())
		if n > 0 {
			if err := s.waitWindow(ctx, cs); err != nil {
				return nil, err
			}
			if err := cs.Send(cs.Buffer()[:n]); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransferAborted, err)
			}
			res.Bytes += int64(n)
			res.Chunks++
			s.observer.Progress(res.Bytes, meta.Size)

			if err := s.poll(); err != nil {
				return nil, err
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read payload: %w", readErr)
		}
	}

	if res.Bytes != meta.Size {
		return nil, fmt.Errorf("%w: payload changed while sending (%d of %d bytes)", ErrTransferAborted, res.Bytes, meta.Size)
	}

	if err := s.ch.Send(codec.EndFrame()); err != nil {
		return nil, fmt.Errorf("%w: send end marker: %v", ErrTransferAborted, err)
	}
	s.log.Debug("end marker sent", "bytes", res.Bytes, "chunks", res.Chunks)
	return res, nil
}

// waitWindow blocks while the send buffer is above the high water mark.
func (s *Sender) waitWindow(ctx context.Context, cs *chunkSender) error {
	if !cs.Congested() {
		return nil
	}

	before := s.ch.BufferedAmount()
	timer := time.NewTimer(s.opts.Timeouts.Send)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-cs.Drained():
			if !cs.Congested() {
				return nil
			}

		case <-timer.C:
			if s.ch.BufferedAmount() < before {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrTransferAborted, ErrBufferTimeout)

		case ev, ok := <-s.ch.Events():
			if err := channelGone(ev, ok); err != nil {
				return err
			}

		case sev, ok := <-s.signals:
			s.lateSignal(sev, ok)
		}
	}
}

func (s *Sender) awaitAck(ctx context.Context) error {
	s.setState(StateAwaitingAck)

	timer := time.NewTimer(s.opts.Timeouts.Ack)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return ErrAckTimeout

		case ev, ok := <-s.ch.Events():
			if ok && ev.Kind == ChannelMessage {
				if codec.Classify(ev.Frame) == codec.ClassAck {
					return nil
				}
				s.log.Debug("ignoring frame while awaiting ack", "bytes", len(ev.Frame.Data))
				continue
			}
			if err := channelGone(ev, ok); err != nil {
				return fmt.Errorf("%w before acknowledgement", err)
			}

		case sev, ok := <-s.signals:
			s.lateSignal(sev, ok)
		}
	}
}
