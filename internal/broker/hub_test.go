package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kkrugley/pinq/internal/pairing"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type harness struct {
	t     *testing.T
	hub   *Hub
	clock *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clock := newFakeClock()
	opts.Clock = clock
	h := NewHub(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{t: t, hub: h, clock: clock}
}

func (h *harness) client(id string) *Client {
	c := &Client{
		hub:   h.hub,
		id:    id,
		ip:    "192.0.2.1",
		send:  make(chan *pairing.Message, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	if !h.hub.Register(c) {
		h.t.Fatal("hub stopped")
	}
	return c
}

func (h *harness) send(c *Client, msg *pairing.Message) {
	h.hub.submit(c, msg)
}

func (h *harness) join(c *Client, code string, role pairing.Role) *pairing.Message {
	h.t.Helper()
	h.send(c, &pairing.Message{Type: pairing.TypeJoinRoom, Code: code, Role: role, ClientType: pairing.ClientTypeCLI})
	return h.expect(c)
}

func (h *harness) expect(c *Client) *pairing.Message {
	h.t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			h.t.Fatalf("%s: send channel closed", c.id)
		}
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatalf("%s: no message", c.id)
		return nil
	}
}

func (h *harness) expectType(c *Client, typ string) *pairing.Message {
	h.t.Helper()
	msg := h.expect(c)
	if msg.Type != typ {
		h.t.Fatalf("%s: got %q (%+v), want %q", c.id, msg.Type, msg, typ)
	}
	return msg
}

// quiet checks nothing is pending after the hub has drained its queue.
func (h *harness) quiet(c *Client) {
	h.t.Helper()
	h.rooms()
	select {
	case msg := <-c.send:
		h.t.Fatalf("%s: unexpected message %+v", c.id, msg)
	default:
	}
}

func (h *harness) rooms() []RoomInfo {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rooms, err := h.hub.Snapshot(ctx)
	if err != nil {
		h.t.Fatal(err)
	}
	return rooms
}

func TestJoinPolicy(t *testing.T) {
	h := newHarness(t, Options{})

	guest := h.client("guest")
	if msg := h.join(guest, "ABC234", pairing.RoleGuest); msg.Type != pairing.TypeRoomNotFound || msg.Code != "ABC234" {
		t.Fatalf("guest on unused code = %+v, want room-not-found", msg)
	}
	if len(h.rooms()) != 0 {
		t.Fatal("a failed guest join must not create a room")
	}

	creator := h.client("creator")
	msg := h.join(creator, "abc234", pairing.RoleCreator)
	if msg.Type != pairing.TypeRoomJoined || msg.Code != "ABC234" || len(msg.Peers) != 0 {
		t.Fatalf("creator join = %+v", msg)
	}

	rival := h.client("rival")
	if msg := h.join(rival, "ABC234", pairing.RoleCreator); msg.Type != pairing.TypeRoomFull {
		t.Fatalf("second creator = %+v, want room-full", msg)
	}

	msg = h.join(guest, "ABC234", pairing.RoleGuest)
	if msg.Type != pairing.TypeRoomJoined || len(msg.Peers) != 1 || msg.Peers[0].ID != "creator" || msg.Peers[0].Role != pairing.RoleCreator {
		t.Fatalf("guest join = %+v", msg)
	}
	joined := h.expectType(creator, pairing.TypePeerJoined)
	if joined.PeerID != "guest" || joined.ClientType != pairing.ClientTypeCLI || joined.Code != "ABC234" {
		t.Errorf("peer-joined = %+v", joined)
	}

	third := h.client("third")
	if msg := h.join(third, "ABC234", pairing.RoleGuest); msg.Type != pairing.TypeRoomFull {
		t.Fatalf("third member = %+v, want room-full", msg)
	}

	// Re-joining is a no-op that confirms membership again.
	if msg := h.join(guest, "ABC234", pairing.RoleGuest); msg.Type != pairing.TypeRoomJoined {
		t.Fatalf("re-join = %+v", msg)
	}
	h.quiet(creator)

	rooms := h.rooms()
	if len(rooms) != 1 || len(rooms[0].Roles) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
}

func TestCreatorJoinsGuestRoom(t *testing.T) {
	h := newHarness(t, Options{})

	// A guest can only be in a room a creator opened; once the creator
	// leaves, another creator may take the slot.
	a := h.client("a")
	b := h.client("b")
	h.join(a, "QRS789", pairing.RoleCreator)
	h.join(b, "QRS789", pairing.RoleGuest)
	h.expectType(a, pairing.TypePeerJoined)

	h.send(a, &pairing.Message{Type: pairing.TypeLeaveRoom, Code: "QRS789"})
	h.expectType(b, pairing.TypePeerDisconnected)

	c := h.client("c")
	if msg := h.join(c, "QRS789", pairing.RoleCreator); msg.Type != pairing.TypeRoomJoined {
		t.Fatalf("creator joining a guest's room = %+v", msg)
	}
	h.expectType(b, pairing.TypePeerJoined)
}

func TestJoinRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.client("c")

	for _, code := range []string{"", "ABC", "ABC2345", "ABC10O"} {
		if msg := h.join(c, code, pairing.RoleCreator); msg.Type != pairing.TypeError {
			t.Errorf("join(%q) = %+v, want error", code, msg)
		}
	}
	if msg := h.join(c, "ABC234", "admin"); msg.Type != pairing.TypeError {
		t.Errorf("join with bad role = %+v", msg)
	}

	h.send(c, &pairing.Message{Type: "nonsense"})
	if msg := h.expect(c); msg.Type != pairing.TypeError {
		t.Errorf("unknown type = %+v", msg)
	}
}

func TestSignalRelay(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.client("a")
	b := h.client("b")
	h.join(a, "XYZ234", pairing.RoleCreator)
	h.join(b, "XYZ234", pairing.RoleGuest)
	h.expectType(a, pairing.TypePeerJoined)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "XYZ234", Signal: payload})
	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "XYZ234", Signal: payload})

	for i := 0; i < 2; i++ {
		msg := h.expectType(b, pairing.TypeSignal)
		if string(msg.Signal) != string(payload) || msg.From != "a" || msg.Code != "XYZ234" {
			t.Errorf("relayed = %+v", msg)
		}
	}
	h.quiet(a)

	if rooms := h.rooms(); len(rooms) != 1 || len(rooms[0].Roles) != 2 {
		t.Errorf("signals must not change membership: %+v", rooms)
	}

	outsider := h.client("outsider")
	h.send(outsider, &pairing.Message{Type: pairing.TypeSignal, Code: "XYZ234", Signal: payload})
	h.expectType(outsider, pairing.TypeRoomNotFound)
	h.quiet(b)

	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "NNN234", Signal: payload})
	h.expectType(a, pairing.TypeRoomNotFound)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.client("a")
	b := h.client("b")
	h.join(a, "DEF456", pairing.RoleCreator)
	h.join(b, "DEF456", pairing.RoleGuest)
	h.expectType(a, pairing.TypePeerJoined)

	h.hub.leave(b)
	msg := h.expectType(a, pairing.TypePeerDisconnected)
	if msg.PeerID != "b" || msg.Code != "DEF456" {
		t.Errorf("peer-disconnected = %+v", msg)
	}
	if _, ok := <-b.send; ok {
		t.Error("disconnected client's channel should be closed")
	}

	h.hub.leave(a)
	if rooms := h.rooms(); len(rooms) != 0 {
		t.Errorf("empty room should be torn down, got %+v", rooms)
	}
}

func TestResumeReplacesStaleMember(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.client("a")
	b := h.client("b")
	h.join(a, "GHJ234", pairing.RoleCreator)
	h.send(b, &pairing.Message{Type: pairing.TypeJoinRoom, Code: "GHJ234", Role: pairing.RoleGuest, Token: "tok"})
	h.expectType(b, pairing.TypeRoomJoined)
	h.expectType(a, pairing.TypePeerJoined)

	b2 := h.client("b2")
	h.send(b2, &pairing.Message{Type: pairing.TypeJoinRoom, Code: "GHJ234", Role: pairing.RoleGuest, Token: "tok"})
	msg := h.expectType(b2, pairing.TypeRoomJoined)
	if len(msg.Peers) != 1 || msg.Peers[0].ID != "a" {
		t.Errorf("resumed join peers = %+v", msg.Peers)
	}

	// The old connection going away no longer affects the room.
	h.hub.leave(b)
	h.quiet(a)

	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "GHJ234", Signal: json.RawMessage(`{}`)})
	if msg := h.expectType(b2, pairing.TypeSignal); msg.From != "a" {
		t.Errorf("signal after resume = %+v", msg)
	}
}

func TestRoomExpiresExactlyOnce(t *testing.T) {
	ttl := 5 * time.Minute
	h := newHarness(t, Options{RoomTTL: ttl})
	a := h.client("a")
	b := h.client("b")
	h.join(a, "KMN234", pairing.RoleCreator)
	h.join(b, "KMN234", pairing.RoleGuest)
	h.expectType(a, pairing.TypePeerJoined)

	h.clock.Advance(ttl)
	h.expectType(a, pairing.TypeRoomExpired)
	h.expectType(b, pairing.TypeRoomExpired)
	if rooms := h.rooms(); len(rooms) != 0 {
		t.Fatalf("expired room still listed: %+v", rooms)
	}

	h.clock.Advance(ttl)
	h.quiet(a)
	h.quiet(b)

	// Members were forced out, so signals now fail.
	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "KMN234"})
	h.expectType(a, pairing.TypeRoomNotFound)
}

func TestActivityRenewsTTL(t *testing.T) {
	ttl := 5 * time.Minute
	eps := time.Second
	h := newHarness(t, Options{RoomTTL: ttl})
	a := h.client("a")
	b := h.client("b")
	h.join(a, "PQR234", pairing.RoleCreator)
	h.join(b, "PQR234", pairing.RoleGuest)
	h.expectType(a, pairing.TypePeerJoined)

	h.clock.Advance(ttl - eps)
	h.send(a, &pairing.Message{Type: pairing.TypeSignal, Code: "PQR234", Signal: json.RawMessage(`{}`)})
	h.expectType(b, pairing.TypeSignal)

	h.clock.Advance(2 * eps)
	h.quiet(a)
	if len(h.rooms()) != 1 {
		t.Fatal("room expired despite renewal")
	}

	h.clock.Advance(ttl)
	h.expectType(a, pairing.TypeRoomExpired)
	h.expectType(b, pairing.TypeRoomExpired)
}

func TestStaleExpiryIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.client("a")
	h.join(a, "STU234", pairing.RoleCreator)
	h.join(a, "STU234", pairing.RoleCreator) // renews, bumping the generation

	h.hub.expire <- expiry{code: "STU234", gen: 1}
	h.quiet(a)
	if len(h.rooms()) != 1 {
		t.Fatal("stale expiry removed the room")
	}
}

func TestRecreatedRoomIgnoresOldExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	a := h.client("a")
	h.join(a, "VWX234", pairing.RoleCreator) // first room, generation 1
	h.send(a, &pairing.Message{Type: pairing.TypeLeaveRoom, Code: "VWX234"})
	if len(h.rooms()) != 0 {
		t.Fatal("room survived its last member leaving")
	}

	h.join(a, "VWX234", pairing.RoleCreator)
	h.hub.expire <- expiry{code: "VWX234", gen: 1}
	h.quiet(a)
	if len(h.rooms()) != 1 {
		t.Fatal("expiry of the destroyed room reaped its replacement")
	}
}

func TestJoinRateLimit(t *testing.T) {
	h := newHarness(t, Options{JoinRate: 1, JoinBurst: 2})
	c := h.client("scanner")

	h.join(c, "AAA222", pairing.RoleGuest)
	h.join(c, "AAA223", pairing.RoleGuest)
	msg := h.join(c, "AAA224", pairing.RoleGuest)
	if msg.Type != pairing.TypeError || msg.Reason != "rate limited" {
		t.Fatalf("third join = %+v, want rate limited", msg)
	}

	h.clock.Advance(time.Second)
	if msg := h.join(c, "AAA225", pairing.RoleGuest); msg.Type != pairing.TypeRoomNotFound {
		t.Fatalf("join after refill = %+v", msg)
	}
}
