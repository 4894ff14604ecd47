package transfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPeerJoinTimeout         = errors.New("timed out waiting for the receiver to join")
	ErrOfferTimeout            = errors.New("timed out waiting for the sender's offer")
	ErrPeerConnectTimeout      = errors.New("timed out opening the direct channel")
	ErrConnectionFailed        = errors.New("direct channel failed")
	ErrConnectRetriesExhausted = errors.New("too many connection attempts")
	ErrMetadataTimeout         = errors.New("timed out waiting for metadata")
	ErrUnexpectedData          = errors.New("data received before metadata")
	ErrAckTimeout              = errors.New("receiver did not acknowledge")
	ErrTransferAborted         = errors.New("transfer aborted")
	ErrSinkWrite               = errors.New("failed to write received data")
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrTransferDeclined        = errors.New("receiver declined the transfer")
	ErrPeerDisconnected        = errors.New("peer disconnected")
	ErrBufferTimeout           = errors.New("buffer drain timeout")
	ErrSignalingLost           = errors.New("signaling connection lost")
)

// TransferError records which operation and phase of a transfer failed.
type TransferError struct {
	Op      string
	Code    string
	Phase   State
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Phase != StateIdle {
		fmt.Fprintf(&b, " during %s", e.Phase)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Details != "" {
		fmt.Fprintf(&b, " (%s)", e.Details)
	}
	return b.String()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
