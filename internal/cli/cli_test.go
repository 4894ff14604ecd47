package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/signaling"
	"github.com/kkrugley/pinq/internal/transfer"
)

func TestParseCodeInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"K7QP3M", "K7QP3M", false},
		{" k7q-p3m ", "K7QP3M", false},
		{"k7q p3m", "K7QP3M", false},
		{"https://pinq.example.com/r/K7QP3M", "K7QP3M", false},
		{"https://pinq.example.com/r/k7qp3m/", "K7QP3M", false},
		{"http://localhost:8080/?code=K7QP3M", "K7QP3M", false},
		{"", "", true},
		{"K7QP3", "", true},
		{"K7QP3O", "", true},
		{"https://pinq.example.com/about", "", true},
	}

	for _, tt := range tests {
		got, err := parseCodeInput(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCodeInput(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCodeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" yes ":   true,
		"n\n":     false,
		"\n":      false,
		"":        false,
		"maybe\n": false,
	}
	for in, want := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(in), &out, "Accept? "); got != want {
			t.Errorf("confirm(%q) = %v, want %v", in, got, want)
		}
		if out.String() != "Accept? " {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestBuildPayload(t *testing.T) {
	if _, err := buildPayload(nil, "", false); err == nil {
		t.Error("empty input accepted")
	}
	if _, err := buildPayload([]string{"a"}, "x", true); err == nil {
		t.Error("file and text accepted together")
	}

	p, err := buildPayload(nil, "", true)
	if err != nil {
		t.Fatalf("empty text: %v", err)
	}
	if p.Metadata.Type != codec.KindText || p.Metadata.Size != 0 {
		t.Errorf("metadata = %+v", p.Metadata)
	}

	path := filepath.Join(t.TempDir(), "big.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Truncate(pairing.MaxPayloadSize + 1)
	f.Close()
	if _, err := buildPayload([]string{path}, "", false); !errors.Is(err, transfer.ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestPeerFormat(t *testing.T) {
	if peerFormat(nil) != codec.FormatJSON {
		t.Error("no peers should mean JSON")
	}
	cli := []pairing.PeerInfo{{ID: "a", Role: pairing.RoleCreator, ClientType: pairing.ClientTypeCLI}}
	if peerFormat(cli) != codec.FormatMsgpack {
		t.Error("cli peer should mean msgpack")
	}
	web := []pairing.PeerInfo{{ID: "a", Role: pairing.RoleCreator, ClientType: pairing.ClientTypeWeb}}
	if peerFormat(web) != codec.FormatJSON {
		t.Error("web peer should mean JSON")
	}
}

func TestFriendly(t *testing.T) {
	err := friendly(transfer.WrapError("join room", signaling.ErrRoomNotFound, "ABC234"))
	if !errors.Is(err, signaling.ErrRoomNotFound) || !strings.Contains(err.Error(), "check the code") {
		t.Errorf("friendly = %v", err)
	}
}
