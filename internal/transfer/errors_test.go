package transfer

import (
	"errors"
	"testing"
)

func TestTransferError(t *testing.T) {
	err := &TransferError{Op: "receive", Code: "ABC234", Phase: StateStreaming, Err: ErrTransferAborted, Details: "channel closed"}

	if !errors.Is(err, ErrTransferAborted) {
		t.Error("errors.Is should find the sentinel")
	}

	want := "receive [ABC234] during streaming: transfer aborted (channel closed)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	plain := NewError("send", ErrAckTimeout)
	if got := plain.Error(); got != "send: receiver did not acknowledge" {
		t.Errorf("Error() = %q", got)
	}

	var te *TransferError
	if !errors.As(error(WrapError("send", ErrBufferTimeout, "stalled")), &te) || te.Details != "stalled" {
		t.Errorf("errors.As failed: %+v", te)
	}
}
