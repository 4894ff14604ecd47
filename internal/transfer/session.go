package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/signaling"
)

// State is a transfer session phase.
type State int

const (
	StateIdle State = iota
	StateAwaitingPeer
	StateAwaitingOffer
	StateConnecting
	StateAwaitingMetadata
	StateStreaming
	StateAwaitingAck
	StateSendingAck
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPeer:
		return "awaiting peer"
	case StateAwaitingOffer:
		return "awaiting offer"
	case StateConnecting:
		return "connecting"
	case StateAwaitingMetadata:
		return "awaiting metadata"
	case StateStreaming:
		return "streaming"
	case StateAwaitingAck:
		return "awaiting ack"
	case StateSendingAck:
		return "sending ack"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Observer is told about state changes and byte progress. Calls are made
// from the session goroutine and must not block for long.
type Observer interface {
	StateChanged(s State)
	Progress(done, total int64)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)    {}
func (nopObserver) Progress(int64, int64) {}

// Timeouts bounds every wait a session makes.
type Timeouts struct {
	PeerJoin    time.Duration
	Offer       time.Duration
	PeerConnect time.Duration
	Metadata    time.Duration
	Idle        time.Duration
	Send        time.Duration
	Ack         time.Duration
	Linger      time.Duration

	MaxConnectAttempts int
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PeerJoin:           pairing.PeerJoinTimeout,
		Offer:              pairing.OfferTimeout,
		PeerConnect:        pairing.PeerConnectTimeout,
		Metadata:           pairing.MetadataTimeout,
		Idle:               pairing.RoomTTL,
		Send:               pairing.SendTimeout,
		Ack:                pairing.AckTimeout,
		Linger:             pairing.AckLinger,
		MaxConnectAttempts: pairing.MaxConnectAttempts,
	}
}

// Options configures a Sender or Receiver.
type Options struct {
	// Code is the room both peers joined.
	Code      string
	Signaler  Signaler
	Connector Connector

	// Format is the metadata encoding to use or expect. A sender switches
	// to whatever the joining peer's client type calls for.
	Format codec.Format

	// PeerPresent is set when the join reply already listed the other
	// member, so there is no peer-joined to wait for.
	PeerPresent bool

	Timeouts Timeouts
	Logger   *slog.Logger
	Observer Observer
}

func (o Options) validate() error {
	if o.Signaler == nil {
		return errors.New("transfer: options need a signaler")
	}
	if o.Connector == nil {
		return errors.New("transfer: options need a connector")
	}
	return nil
}

// Result summarizes a finished transfer.
type Result struct {
	Metadata codec.Metadata
	Bytes    int64
	Chunks   int64

	// Output is the saved file path, or the text itself for text payloads.
	// Empty on the sending side.
	Output string

	Duration time.Duration
}

// session holds what Sender and Receiver share: the state, the signal
// stream and the negotiated channel. It is owned by a single goroutine.
type session struct {
	op       string
	opts     Options
	log      *slog.Logger
	observer Observer
	state    State
	signals  <-chan signaling.Event
	neg      Negotiator
	ch       Channel
	started  time.Time
}

func newSession(op string, opts Options) session {
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.Timeouts.MaxConnectAttempts <= 0 {
		opts.Timeouts.MaxConnectAttempts = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var observer Observer = nopObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}

	var signals <-chan signaling.Event
	if opts.Signaler != nil {
		signals = opts.Signaler.Events()
	}

	return session{
		op:       op,
		opts:     opts,
		log:      logger.With("code", opts.Code, "role", op),
		observer: observer,
		signals:  signals,
	}
}

// State returns the current phase. Only meaningful once Run has returned
// or from the Observer.
func (s *session) State() State {
	return s.state
}

func (s *session) setState(next State) {
	if s.state == next {
		// Connecting -> Connecting on a restarted attempt is still reported.
		s.log.Debug("state repeated", "state", next)
		s.observer.StateChanged(next)
		return
	}
	s.log.Debug("state change", "from", s.state, "to", next)
	s.state = next
	s.observer.StateChanged(next)
}

// fail records the phase that failed and moves to StateFailed.
func (s *session) fail(err error, details string) error {
	var te *TransferError
	if !errors.As(err, &te) {
		te = &TransferError{Op: s.op, Code: s.opts.Code, Phase: s.state, Err: err, Details: details}
	}
	if !s.state.Terminal() {
		s.setState(StateFailed)
	}
	s.log.Debug("transfer failed", "error", te)
	return te
}

// relay forwards a local handshake signal through the broker.
func (s *session) relay(sig signaling.SignalPayload) {
	if err := s.opts.Signaler.SendSignal(s.opts.Code, sig); err != nil {
		s.log.Debug("relay signal", "type", sig.Type, "error", err)
	}
}

func (s *session) attach(neg Negotiator) {
	s.neg = neg
	s.ch = neg.Channel()
}

func (s *session) detach() {
	if s.neg != nil {
		if err := s.neg.Close(); err != nil {
			s.log.Debug("close negotiator", "error", err)
		}
	}
	s.neg = nil
	s.ch = nil
}

// lateSignal handles a broker event once the direct channel exists. Only
// trickled candidates still matter; the channel outlives the room.
func (s *session) lateSignal(ev signaling.Event, ok bool) {
	if !ok {
		s.signals = nil
		return
	}
	switch ev.Kind {
	case signaling.EventSignal:
		if s.neg != nil {
			if err := s.neg.HandleSignal(ev.Signal); err != nil {
				s.log.Debug("late signal", "error", err)
			}
		}
	default:
		s.log.Debug("signaling event ignored", "event", ev.Kind)
	}
}

// signalFailure maps a signaling event that ends a handshake phase to an
// error, or returns nil when the event is harmless.
func signalFailure(ev signaling.Event) error {
	switch ev.Kind {
	case signaling.EventPeerDisconnected:
		return ErrPeerDisconnected
	case signaling.EventRoomExpired:
		return signaling.ErrRoomExpired
	case signaling.EventClosed:
		if ev.Err != nil {
			return fmt.Errorf("%w: %v", ErrSignalingLost, ev.Err)
		}
		return ErrSignalingLost
	}
	return nil
}

// waitOpen waits for the negotiator's channel to open while applying
// remote signals. When restartOn matches an event the attempt is
// superseded and that event is returned.
func (s *session) waitOpen(ctx context.Context, restartOn func(signaling.Event) bool) (*signaling.Event, error) {
	timer := time.NewTimer(s.opts.Timeouts.PeerConnect)
	defer timer.Stop()

	events := s.ch.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			return nil, ErrPeerConnectTimeout

		case ev, ok := <-events:
			if !ok {
				return nil, ErrConnectionFailed
			}
			switch ev.Kind {
			case ChannelOpen:
				s.log.Debug("direct channel open")
				return nil, nil
			case ChannelClosed:
				return nil, ErrConnectionFailed
			case ChannelError:
				return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, ev.Err)
			default:
				s.log.Debug("channel event before open", "event", ev.Kind)
			}

		case sev, ok := <-s.signals:
			if !ok {
				s.signals = nil
				return nil, ErrSignalingLost
			}
			if restartOn(sev) {
				return &sev, nil
			}
			if sev.Kind == signaling.EventSignal {
				if err := s.neg.HandleSignal(sev.Signal); err != nil {
					s.log.Debug("apply signal", "type", sev.Signal.Type, "error", err)
				}
				continue
			}
			if err := signalFailure(sev); err != nil {
				return nil, err
			}
		}
	}
}

// poll drains pending events without blocking. It reports a channel that
// closed underneath a running transfer.
func (s *session) poll() error {
	for {
		select {
		case ev, ok := <-s.ch.Events():
			if err := channelGone(ev, ok); err != nil {
				return err
			}
		case sev, ok := <-s.signals:
			s.lateSignal(sev, ok)
		default:
			return nil
		}
	}
}

// channelGone converts a close or error event into ErrTransferAborted.
func channelGone(ev ChannelEvent, ok bool) error {
	switch {
	case !ok || ev.Kind == ChannelClosed:
		return fmt.Errorf("%w: channel closed", ErrTransferAborted)
	case ev.Kind == ChannelError:
		return fmt.Errorf("%w: %v", ErrTransferAborted, ev.Err)
	}
	return nil
}
