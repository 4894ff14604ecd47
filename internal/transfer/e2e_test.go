package transfer

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kkrugley/pinq/internal/broker"
	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/pairing"
	"github.com/kkrugley/pinq/internal/signaling"
)

// TestTransferThroughBroker pairs two signaling clients through a real
// broker and moves a payload over the in-memory channel.
func TestTransferThroughBroker(t *testing.T) {
	hub := broker.NewHub(broker.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(broker.NewServer(hub, nil).Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	newClient := func() *signaling.Client {
		c := signaling.NewClient(signaling.Options{URL: url, ReconnectAttempts: -1})
		if err := c.Connect(ctx, 5*time.Second); err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(c.Disconnect)
		return c
	}
	sendClient, recvClient := newClient(), newClient()

	code, err := pairing.GenerateCode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sendClient.Join(ctx, code, pairing.RoleCreator, 5*time.Second); err != nil {
		t.Fatalf("creator join: %v", err)
	}
	joined, err := recvClient.Join(ctx, code, pairing.RoleGuest, 5*time.Second)
	if err != nil {
		t.Fatalf("guest join: %v", err)
	}
	if len(joined.Peers) != 1 {
		t.Fatalf("peers = %+v", joined.Peers)
	}

	net := newMemNet()
	payload, _ := NewTextPayload("through the broker")

	sender, err := NewSender(Options{
		Code:      code,
		Signaler:  sendClient,
		Connector: net,
		Timeouts:  testTimeouts(),
	}, payload)
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := NewReceiver(Options{
		Code:      code,
		Signaler:  recvClient,
		Connector: net,
		Format:    codec.SelectFormat(joined.Peers[0].ClientType),
		Timeouts:  testTimeouts(),
	}, DefaultSinks(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	recv := runAsync(ctx, receiver.Run)
	send := runAsync(ctx, sender.Run)

	if out := <-send; out.err != nil {
		t.Fatalf("sender: %v", out.err)
	}
	out := <-recv
	if out.err != nil {
		t.Fatalf("receiver: %v", out.err)
	}
	if out.res.Output != "through the broker" {
		t.Errorf("received %q", out.res.Output)
	}
}
