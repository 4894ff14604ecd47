package pairing

import "encoding/json"

// Role is the part a connection plays in a room.
type Role string

const (
	// RoleCreator may open a room that does not exist yet.
	RoleCreator Role = "creator"

	// RoleGuest may only join a room somebody else opened.
	RoleGuest Role = "guest"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleGuest
}

// Client types advertised on join so peers can pick a wire format.
const (
	ClientTypeCLI = "cli"
	ClientTypeWeb = "web"
)

// Message is the single JSON envelope exchanged between clients and the
// room broker over the websocket.
type Message struct {
	Type       string          `json:"type"`
	Code       string          `json:"code,omitempty"`
	Role       Role            `json:"role,omitempty"`
	ClientType string          `json:"clientType,omitempty"`
	Token      string          `json:"token,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	From       string          `json:"from,omitempty"`
	PeerID     string          `json:"peerId,omitempty"`
	Peers      []PeerInfo      `json:"peers,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// PeerInfo describes the other member of a room.
type PeerInfo struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	ClientType string `json:"clientType,omitempty"`
}

// Client to broker.
const (
	TypeJoinRoom  = "join-room"
	TypeSignal    = "signal"
	TypeLeaveRoom = "leave-room"
)

// Broker to client.
const (
	TypeRoomJoined       = "room-joined"
	TypeRoomFull         = "room-full"
	TypeRoomNotFound     = "room-not-found"
	TypeRoomExpired      = "room-expired"
	TypePeerJoined       = "peer-joined"
	TypePeerDisconnected = "peer-disconnected"
	TypeError            = "error"
)
