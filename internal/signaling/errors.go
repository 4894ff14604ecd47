package signaling

import "errors"

var (
	ErrConnectTimeout = errors.New("timed out connecting to the broker")
	ErrJoinTimeout    = errors.New("timed out joining the room")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomExpired    = errors.New("room expired")
	ErrJoinRejected   = errors.New("join rejected")
	ErrClosed         = errors.New("signaling client closed")
)
