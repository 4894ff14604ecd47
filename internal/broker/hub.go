package broker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kkrugley/pinq/internal/pairing"
)

// Options configures a Hub.
type Options struct {
	RoomTTL time.Duration

	// JoinRate is the sustained joins per second allowed per IP. Zero
	// disables limiting.
	JoinRate  float64
	JoinBurst int

	Clock  Clock
	Logger *slog.Logger
}

type inbound struct {
	client *Client
	msg    *pairing.Message
}

type expiry struct {
	code string
	gen  uint64
}

// Hub is the central brain of the broker. It manages all active rooms and
// clients from a single goroutine; everything else talks to it through
// channels.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	expire     chan expiry
	queries    chan chan []RoomInfo
	done       chan struct{}

	ttl     time.Duration
	gen     uint64
	clock   Clock
	limiter *joinLimiter
	log     *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(opts Options) *Hub {
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = pairing.RoomTTL
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		expire:     make(chan expiry),
		queries:    make(chan chan []RoomInfo),
		done:       make(chan struct{}),
		ttl:        opts.RoomTTL,
		clock:      opts.Clock,
		limiter:    newJoinLimiter(opts.JoinRate, opts.JoinBurst, opts.Clock),
		log:        opts.Logger,
	}
}

// Run starts the hub's main processing loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug("client registered", "conn", c.id, "ip", c.ip)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.log.Debug("client unregistered", "conn", c.id)
				h.drop(c)
			}

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; ok {
				h.handle(in.client, in.msg)
			}

		case e := <-h.expire:
			h.expireRoom(e)

		case reply := <-h.queries:
			reply <- h.snapshot()
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for code, room := range h.rooms {
		if room.timer != nil {
			room.timer.Stop()
		}
		delete(h.rooms, code)
	}
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.log.Info("hub stopped")
}

// Register hands a new connection to the hub. It returns false once the
// hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) submit(c *Client, msg *pairing.Message) {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Snapshot returns the live rooms sorted by code.
func (h *Hub) Snapshot(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.queries <- reply:
	case <-h.done:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-reply, nil
}

func (h *Hub) snapshot() []RoomInfo {
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (h *Hub) handle(c *Client, msg *pairing.Message) {
	switch msg.Type {
	case pairing.TypeJoinRoom:
		h.join(c, msg)
	case pairing.TypeSignal:
		h.signal(c, msg)
	case pairing.TypeLeaveRoom:
		code := pairing.NormalizeCode(msg.Code)
		if room, ok := h.rooms[code]; ok && room.find(c) != nil {
			h.removeMember(room, c)
		}
	default:
		h.log.Debug("unknown message type", "conn", c.id, "type", msg.Type)
		h.deliver(c, &pairing.Message{Type: pairing.TypeError, Reason: "unknown message type"})
	}
}

func (h *Hub) join(c *Client, msg *pairing.Message) {
	code := pairing.NormalizeCode(msg.Code)
	if !pairing.ValidCode(code) {
		h.deliver(c, &pairing.Message{Type: pairing.TypeError, Code: msg.Code, Reason: "invalid code"})
		return
	}
	if !msg.Role.Valid() {
		h.deliver(c, &pairing.Message{Type: pairing.TypeError, Code: code, Reason: "invalid role"})
		return
	}
	if !h.limiter.Allow(c.ip) {
		h.log.Warn("join rate limited", "conn", c.id, "ip", c.ip)
		h.deliver(c, &pairing.Message{Type: pairing.TypeError, Code: code, Reason: "rate limited"})
		return
	}
	if msg.ClientType != "" {
		c.clientType = msg.ClientType
	}

	log := h.log.With("code", code, "conn", c.id, "role", msg.Role)
	room, exists := h.rooms[code]

	switch {
	case !exists && msg.Role == pairing.RoleGuest:
		log.Debug("join failed: room not found")
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomNotFound, Code: code})
		return

	case !exists:
		room = newRoom(code)
		h.rooms[code] = room
		log.Info("room created")

	case room.find(c) != nil:
		h.renew(room)
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomJoined, Code: code, Peers: room.peersOf(c)})
		return

	case room.findToken(msg.Token) != nil:
		// Same participant on a new connection; the old one has not been
		// unregistered yet.
		stale := room.findToken(msg.Token)
		room.remove(stale.client)
		delete(stale.client.rooms, code)
		room.add(&member{client: c, role: stale.role, token: msg.Token})
		c.rooms[code] = struct{}{}
		h.renew(room)
		log.Info("member resumed", "previous", stale.client.id)
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomJoined, Code: code, Peers: room.peersOf(c)})
		return

	case room.full():
		log.Debug("join failed: room full")
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomFull, Code: code})
		return

	case msg.Role == pairing.RoleCreator && room.members[0].role == pairing.RoleCreator:
		log.Debug("join failed: code already taken by a creator")
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomFull, Code: code})
		return
	}

	room.add(&member{client: c, role: msg.Role, token: msg.Token})
	c.rooms[code] = struct{}{}
	h.renew(room)
	log.Info("client joined room", "members", len(room.members))

	h.deliver(c, &pairing.Message{Type: pairing.TypeRoomJoined, Code: code, Peers: room.peersOf(c)})
	for _, m := range room.others(c) {
		h.deliver(m.client, &pairing.Message{
			Type:       pairing.TypePeerJoined,
			Code:       code,
			PeerID:     c.id,
			Role:       msg.Role,
			ClientType: c.clientType,
		})
	}
}

func (h *Hub) signal(c *Client, msg *pairing.Message) {
	code := pairing.NormalizeCode(msg.Code)
	room, ok := h.rooms[code]
	if !ok || room.find(c) == nil {
		h.log.Debug("signal failed: not a member", "code", code, "conn", c.id)
		h.deliver(c, &pairing.Message{Type: pairing.TypeRoomNotFound, Code: code})
		return
	}

	h.renew(room)
	for _, m := range room.others(c) {
		h.deliver(m.client, &pairing.Message{
			Type:   pairing.TypeSignal,
			Code:   code,
			Signal: msg.Signal,
			From:   c.id,
		})
	}
}

// removeMember takes c out of room, notifying whoever is left.
func (h *Hub) removeMember(room *Room, c *Client) {
	if !room.remove(c) {
		return
	}
	delete(c.rooms, room.Code)

	if room.empty() {
		h.destroy(room)
		h.log.Info("room closed", "code", room.Code)
		return
	}

	h.renew(room)
	for _, m := range room.others(c) {
		h.deliver(m.client, &pairing.Message{Type: pairing.TypePeerDisconnected, Code: room.Code, PeerID: c.id})
	}
}

// renew restarts the room's inactivity timer.
func (h *Hub) renew(room *Room) {
	if room.timer != nil {
		room.timer.Stop()
	}
	h.gen++
	room.gen = h.gen
	room.expiresAt = h.clock.Now().Add(h.ttl)

	e := expiry{code: room.Code, gen: room.gen}
	room.timer = h.clock.AfterFunc(h.ttl, func() {
		select {
		case h.expire <- e:
		case <-h.done:
		}
	})
}

func (h *Hub) expireRoom(e expiry) {
	room, ok := h.rooms[e.code]
	if !ok || room.gen != e.gen {
		h.log.Debug("stale expiry ignored", "code", e.code)
		return
	}

	h.log.Info("room expired", "code", room.Code, "members", len(room.members))
	members := room.members
	h.destroy(room)
	for _, m := range members {
		delete(m.client.rooms, room.Code)
		h.deliver(m.client, &pairing.Message{Type: pairing.TypeRoomExpired, Code: room.Code})
	}
}

func (h *Hub) destroy(room *Room) {
	if room.timer != nil {
		room.timer.Stop()
	}
	room.members = nil
	delete(h.rooms, room.Code)
}

// drop removes a client from every room and closes its send channel.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	for code := range c.rooms {
		if room, ok := h.rooms[code]; ok {
			h.removeMember(room, c)
		}
	}
	close(c.send)
}

// deliver never blocks the hub: a client that cannot keep up is dropped.
func (h *Hub) deliver(c *Client, msg *pairing.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("send buffer full, dropping client", "conn", c.id)
		h.drop(c)
	}
}
