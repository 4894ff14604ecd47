package pairing

import "time"

// --- Room lifecycle ---
const (
	// RoomTTL is the inactivity window after which the broker reaps a room.
	RoomTTL = 5 * time.Minute

	// MaxMembers is the room capacity: one sender and one receiver.
	MaxMembers = 2
)

// --- Payload framing ---
const (
	ChunkSize      = 16 * 1024        // 16 KiB - fixed in both directions
	MaxPayloadSize = 50 * 1024 * 1024 // 50 MiB - enforced by the sender
	HighWaterMark  = 1 * 1024 * 1024  // 1 MiB - pause sending above this
	LowWaterMark   = 256 * 1024       // 256 KiB - resume below this
)

// --- Timeouts ---
const (
	PrewarmTimeout     = 90 * time.Second // cold-started broker
	ConnectTimeout     = 30 * time.Second
	JoinTimeout        = 15 * time.Second
	PeerJoinTimeout    = 90 * time.Second
	OfferTimeout       = 90 * time.Second
	PeerConnectTimeout = 30 * time.Second
	MetadataTimeout    = RoomTTL
	AckTimeout         = 10 * time.Second
	SendTimeout        = 60 * time.Second // buffered amount must drain within this
	AckLinger          = 800 * time.Millisecond

	// MaxConnectAttempts bounds handshake restarts caused by a new peer.
	MaxConnectAttempts = 3
)
