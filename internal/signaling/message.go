package signaling

import "encoding/json"

// SignalPayload is the handshake data relayed through the broker: an SDP
// offer or answer, or a single ICE candidate. The broker never reads it.
type SignalPayload struct {
	Type      string          `json:"type,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Signal types carried in SignalPayload.Type.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// IsOffer reports whether p is a complete offer.
func (p SignalPayload) IsOffer() bool {
	return p.Type == SignalOffer && p.SDP != ""
}

// IsAnswer reports whether p is a complete answer.
func (p SignalPayload) IsAnswer() bool {
	return p.Type == SignalAnswer && p.SDP != ""
}

// IsCandidate reports whether p carries an ICE candidate.
func (p SignalPayload) IsCandidate() bool {
	return len(p.Candidate) > 0 && string(p.Candidate) != "null"
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventPeerJoined EventKind = iota + 1
	EventPeerDisconnected
	EventRoomExpired
	EventSignal
	EventReconnected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerDisconnected:
		return "peer-disconnected"
	case EventRoomExpired:
		return "room-expired"
	case EventSignal:
		return "signal"
	case EventReconnected:
		return "reconnected"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one notification for the room the client has joined.
type Event struct {
	Kind       EventKind
	Code       string
	PeerID     string
	ClientType string
	Signal     SignalPayload

	// Err is set on EventClosed when the transport was lost.
	Err error
}
