package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/kkrugley/pinq/internal/config"
	"github.com/kkrugley/pinq/internal/signaling"
	"github.com/kkrugley/pinq/internal/transfer"
)

// Label names the single ordered data channel a transfer uses.
const Label = "pinq"

// Connector builds pion peer connections for transfer sessions.
type Connector struct {
	cfg *config.Config
	log *slog.Logger
	api *pion.API

	// forceRelay is evaluated once; interface probing is not free.
	forceRelay bool
}

func NewConnector(cfg *config.Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:        cfg,
		log:        logger,
		api:        newAPI(false),
		forceRelay: cfg.ForceRelay || ShouldForceRelay(),
	}
}

func newAPI(loopback bool) *pion.API {
	se := pion.SettingEngine{}
	se.SetIncludeLoopbackCandidate(loopback)
	return pion.NewAPI(pion.WithSettingEngine(se))
}

// NewPeerConnection creates a peer connection with the configured STUN and
// TURN servers. Relay is forced when TURN exists and the host looks like it
// sits behind a VPN or CGNAT.
func (c *Connector) NewPeerConnection() (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if stun := c.cfg.STUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := c.cfg.TURNServers()
	if turnServers != nil {
		username, password := c.cfg.TURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && c.forceRelay {
		policy = pion.ICETransportPolicyRelay
		c.log.Debug("forcing TURN relay")
	}

	pc, err := c.api.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// Offer creates the data channel and sends an offer through send.
func (c *Connector) Offer(ctx context.Context, send func(signaling.SignalPayload)) (transfer.Negotiator, error) {
	pc, err := c.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	n := newNegotiator(pc, send, c.log)

	ordered := true
	dc, err := pc.CreateDataChannel(Label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	n.channel.bind(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		n.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := ctx.Err(); err != nil {
		n.Close()
		return nil, err
	}
	send(signaling.SignalPayload{Type: signaling.SignalOffer, SDP: pc.LocalDescription().SDP})
	return n, nil
}

// Answer applies a remote offer and sends back an answer. The data
// channel is bound when the offerer's channel arrives.
func (c *Connector) Answer(ctx context.Context, offer signaling.SignalPayload, send func(signaling.SignalPayload)) (transfer.Negotiator, error) {
	if !offer.IsOffer() {
		return nil, errors.New("answer: signal is not an offer")
	}

	pc, err := c.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	n := newNegotiator(pc, send, c.log)

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != Label {
			c.log.Debug("ignoring data channel", "label", dc.Label())
			return
		}
		n.channel.bind(dc)
	})

	if err := n.setRemote(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		n.Close()
		return nil, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		n.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := ctx.Err(); err != nil {
		n.Close()
		return nil, err
	}
	send(signaling.SignalPayload{Type: signaling.SignalAnswer, SDP: pc.LocalDescription().SDP})
	return n, nil
}

// Negotiator owns one peer connection attempt.
type Negotiator struct {
	pc      *pion.PeerConnection
	channel *DataChannel
	log     *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []pion.ICECandidateInit
}

func newNegotiator(pc *pion.PeerConnection, send func(signaling.SignalPayload), logger *slog.Logger) *Negotiator {
	n := &Negotiator{pc: pc, channel: newDataChannel(), log: logger}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Debug("marshal candidate", "error", err)
			return
		}
		send(signaling.SignalPayload{Type: signaling.SignalCandidate, Candidate: raw})
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		logger.Debug("ice state", "state", state.String())
		if state == pion.ICEConnectionStateFailed {
			n.channel.fail(errors.New("ice connection failed"))
		}
	})

	return n
}

// HandleSignal applies an answer or candidate from the remote peer.
// Candidates that arrive before the remote description are queued.
func (n *Negotiator) HandleSignal(sig signaling.SignalPayload) error {
	switch {
	case sig.IsAnswer():
		return n.setRemote(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sig.SDP})

	case sig.IsCandidate():
		var ice pion.ICECandidateInit
		if err := json.Unmarshal(sig.Candidate, &ice); err != nil {
			return fmt.Errorf("parse ICE candidate: %w", err)
		}

		n.mu.Lock()
		if !n.remoteSet {
			n.pending = append(n.pending, ice)
			n.mu.Unlock()
			return nil
		}
		n.mu.Unlock()

		if err := n.pc.AddICECandidate(ice); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil

	case sig.IsOffer():
		return errors.New("unexpected offer on an existing connection")
	}
	return nil
}

func (n *Negotiator) setRemote(desc pion.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	n.mu.Lock()
	n.remoteSet = true
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, ice := range pending {
		if err := n.pc.AddICECandidate(ice); err != nil {
			n.log.Debug("add queued candidate", "error", err)
		}
	}
	return nil
}

func (n *Negotiator) Channel() transfer.Channel {
	return n.channel
}

func (n *Negotiator) Close() error {
	cerr := n.channel.Close()
	if err := n.pc.Close(); err != nil {
		return err
	}
	return cerr
}
