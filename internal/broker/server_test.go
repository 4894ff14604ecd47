package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kkrugley/pinq/internal/pairing"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) *pairing.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg pairing.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return &msg
}

func TestHealth(t *testing.T) {
	srv := startServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if got := strings.TrimSpace(string(buf[:n])); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}

	head, err := http.Head(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	head.Body.Close()
	if head.StatusCode != http.StatusOK {
		t.Errorf("HEAD status = %d", head.StatusCode)
	}
}

func TestWebsocketPairing(t *testing.T) {
	srv := startServer(t)
	sender := dial(t, srv)
	receiver := dial(t, srv)

	sender.WriteJSON(pairing.Message{Type: pairing.TypeJoinRoom, Code: "WXY234", Role: pairing.RoleCreator, ClientType: "cli"})
	if msg := readMsg(t, sender); msg.Type != pairing.TypeRoomJoined {
		t.Fatalf("sender join = %+v", msg)
	}

	receiver.WriteJSON(pairing.Message{Type: pairing.TypeJoinRoom, Code: "wxy-234", Role: pairing.RoleGuest, ClientType: "web"})
	joined := readMsg(t, receiver)
	if joined.Type != pairing.TypeRoomJoined || len(joined.Peers) != 1 || joined.Peers[0].ClientType != "cli" {
		t.Fatalf("receiver join = %+v", joined)
	}

	peer := readMsg(t, sender)
	if peer.Type != pairing.TypePeerJoined || peer.ClientType != "web" || peer.PeerID == "" {
		t.Fatalf("peer-joined = %+v", peer)
	}

	receiver.WriteMessage(websocket.TextMessage, []byte(`{"type":"signal","code":"WXY234","signal":{"type":"answer","sdp":"x"}}`))
	sig := readMsg(t, sender)
	if sig.Type != pairing.TypeSignal || string(sig.Signal) != `{"type":"answer","sdp":"x"}` || sig.From != peer.PeerID {
		t.Fatalf("signal = %+v", sig)
	}

	receiver.WriteMessage(websocket.TextMessage, []byte(`not json`))
	if msg := readMsg(t, receiver); msg.Type != pairing.TypeError {
		t.Fatalf("malformed = %+v", msg)
	}

	receiver.Close()
	if msg := readMsg(t, sender); msg.Type != pairing.TypePeerDisconnected || msg.PeerID != peer.PeerID {
		t.Fatalf("disconnect = %+v", msg)
	}
}
