package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kkrugley/pinq/internal/dns"
	"github.com/kkrugley/pinq/internal/pairing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	eventBuffer    = 64
	outgoingBuffer = 64
)

// Options configures a Client.
type Options struct {
	// URL is the broker's websocket endpoint.
	URL        string
	ClientType string
	Logger     *slog.Logger

	// ReconnectAttempts bounds redials after an unexpected drop while a
	// room is active. Zero means the default of 3; negative disables.
	ReconnectAttempts int
	Backoff           time.Duration
}

// JoinResult is the broker's confirmation of a join.
type JoinResult struct {
	Code  string
	Peers []pairing.PeerInfo
}

type joinWaiter struct {
	code  string
	reply chan *pairing.Message
}

// Client manages the WebSocket connection to the broker.
type Client struct {
	opts   Options
	log    *slog.Logger
	dialer *websocket.Dialer
	token  string

	outgoing chan *pairing.Message
	control  chan *pairing.Message
	events   chan Event
	done     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	code    string
	role    pairing.Role
	pending *joinWaiter
}

// NewClient creates a new signaling client
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.ClientType == "" {
		opts.ClientType = pairing.ClientTypeCLI
	}

	return &Client{
		opts:     opts,
		log:      opts.Logger,
		dialer:   newDialer(),
		token:    uuid.NewString(),
		outgoing: make(chan *pairing.Message, outgoingBuffer),
		control:  make(chan *pairing.Message, 4),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

// newDialer resolves hosts through the dns package so a broken system
// resolver falls back to public DNS.
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := dns.Lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}
}

// Connect dials the broker, retrying until timeout elapses. A client that
// has been disconnected cannot connect again.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	if c.closed() {
		return ErrClosed
	}
	conn, err := c.dialRetry(ctx, timeout)
	if err != nil {
		return err
	}
	if c.closed() {
		conn.Close()
		return ErrClosed
	}

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) dialRetry(ctx context.Context, timeout time.Duration) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := c.opts.Backoff
	for attempt := 1; ; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			c.log.Debug("connected to broker", "url", c.opts.URL, "attempt", attempt)
			return conn, nil
		}
		c.log.Debug("dial failed", "url", c.opts.URL, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		case <-c.done:
			return nil, ErrClosed
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
}

// run owns the connection: it serves until the transport drops, then
// reconnects while a room is active.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.serve(conn)

		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		code, role := c.code, c.role
		c.mu.Unlock()

		if code == "" || c.opts.ReconnectAttempts < 0 {
			c.emit(Event{Kind: EventClosed, Err: err})
			return
		}

		c.log.Warn("broker connection lost, reconnecting", "code", code, "error", err)
		conn = c.reconnect()
		if conn == nil {
			c.emit(Event{Kind: EventClosed, Err: err})
			return
		}

		c.wg.Add(1)
		go c.rejoin(code, role)
	}
}

func (c *Client) reconnect() *websocket.Conn {
	backoff := c.opts.Backoff
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2

		ctx, cancel := context.WithTimeout(context.Background(), pairing.ConnectTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		cancel()
		if err == nil {
			return conn
		}
		c.log.Debug("reconnect failed", "attempt", attempt, "error", err)
	}
	return nil
}

// rejoin re-issues the join on a fresh connection. The resume token lets
// the broker swap out our stale membership.
func (c *Client) rejoin(code string, role pairing.Role) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := c.Join(ctx, code, role, pairing.JoinTimeout); err != nil {
		c.log.Warn("rejoin failed", "code", code, "error", err)
		c.emit(Event{Kind: EventClosed, Code: code, Err: err})
		return
	}
	c.log.Info("reconnected", "code", code)
	c.emit(Event{Kind: EventReconnected, Code: code})
}

// serve runs the pumps for one connection and returns when it breaks.
func (c *Client) serve(conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		c.writePump(conn, stop)
		close(writerDone)
	}()

	err := c.readPump(conn)

	close(stop)
	<-writerDone
	conn.Close()
	return err
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg pairing.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		c.dispatch(&msg)
	}
}

// writePump writes messages to the WebSocket connection and sends periodic
// pings. Join and leave requests go ahead of queued signals.
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg *pairing.Message) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			c.log.Debug("write failed", "type", msg.Type, "error", err)
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-c.control:
			if !write(msg) {
				return
			}
			continue
		default:
		}

		select {
		case msg := <-c.control:
			if !write(msg) {
				return
			}

		case msg := <-c.outgoing:
			if !write(msg) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-stop:
			return

		case <-c.done:
			c.flush(write)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
	}
}

// flush writes whatever is still queued when the client shuts down.
func (c *Client) flush(write func(*pairing.Message) bool) {
	for {
		select {
		case msg := <-c.control:
			if !write(msg) {
				return
			}
		case msg := <-c.outgoing:
			if !write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) dispatch(msg *pairing.Message) {
	switch msg.Type {
	case pairing.TypeRoomJoined, pairing.TypeRoomFull, pairing.TypeRoomNotFound, pairing.TypeError:
		if !c.resolveJoin(msg) {
			c.log.Debug("unsolicited reply", "type", msg.Type, "code", msg.Code, "reason", msg.Reason)
		}

	case pairing.TypeRoomExpired:
		if c.resolveJoin(msg) {
			return
		}
		if c.active(msg.Code) {
			c.mu.Lock()
			c.code = ""
			c.mu.Unlock()
			c.emit(Event{Kind: EventRoomExpired, Code: msg.Code})
		}

	case pairing.TypePeerJoined:
		if c.active(msg.Code) {
			c.emit(Event{Kind: EventPeerJoined, Code: msg.Code, PeerID: msg.PeerID, ClientType: msg.ClientType})
		}

	case pairing.TypePeerDisconnected:
		if c.active(msg.Code) {
			c.emit(Event{Kind: EventPeerDisconnected, Code: msg.Code, PeerID: msg.PeerID})
		}

	case pairing.TypeSignal:
		if !c.active(msg.Code) {
			return
		}
		var sig SignalPayload
		if err := json.Unmarshal(msg.Signal, &sig); err != nil {
			c.log.Debug("bad signal payload", "from", msg.From, "error", err)
			return
		}
		c.emit(Event{Kind: EventSignal, Code: msg.Code, PeerID: msg.From, Signal: sig})

	default:
		c.log.Debug("unknown message type", "type", msg.Type)
	}
}

func (c *Client) resolveJoin(msg *pairing.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.pending
	if w == nil {
		return false
	}
	if msg.Code != w.code && pairing.NormalizeCode(msg.Code) != w.code {
		return false
	}
	c.pending = nil
	w.reply <- msg
	return true
}

func (c *Client) active(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code != "" && c.code == code
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) enqueue(ch chan *pairing.Message, msg *pairing.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case ch <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Join asks the broker to put this client in room code. It resolves on the
// first reply for that code.
func (c *Client) Join(ctx context.Context, code string, role pairing.Role, timeout time.Duration) (*JoinResult, error) {
	code = pairing.NormalizeCode(code)
	if !pairing.ValidCode(code) {
		return nil, fmt.Errorf("%w: invalid code %q", ErrJoinRejected, code)
	}

	w := &joinWaiter{code: code, reply: make(chan *pairing.Message, 1)}
	c.mu.Lock()
	c.pending = w
	c.mu.Unlock()

	clearPending := func() {
		c.mu.Lock()
		if c.pending == w {
			c.pending = nil
		}
		c.mu.Unlock()
	}

	err := c.enqueue(c.control, &pairing.Message{
		Type:       pairing.TypeJoinRoom,
		Code:       code,
		Role:       role,
		ClientType: c.opts.ClientType,
		Token:      c.token,
	})
	if err != nil {
		clearPending()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-w.reply:
		switch msg.Type {
		case pairing.TypeRoomJoined:
			c.mu.Lock()
			c.code, c.role = code, role
			c.mu.Unlock()
			return &JoinResult{Code: code, Peers: msg.Peers}, nil
		case pairing.TypeRoomFull:
			return nil, ErrRoomFull
		case pairing.TypeRoomNotFound:
			return nil, ErrRoomNotFound
		case pairing.TypeRoomExpired:
			return nil, ErrRoomExpired
		default:
			return nil, fmt.Errorf("%w: %s", ErrJoinRejected, msg.Reason)
		}

	case <-timer.C:
		clearPending()
		return nil, ErrJoinTimeout

	case <-ctx.Done():
		clearPending()
		return nil, ctx.Err()

	case <-c.done:
		return nil, ErrClosed
	}
}

// SendSignal relays a handshake payload to the other member. Delivery is
// not confirmed.
func (c *Client) SendSignal(code string, sig SignalPayload) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return c.enqueue(c.outgoing, &pairing.Message{Type: pairing.TypeSignal, Code: code, Signal: raw})
}

// Leave asks the broker to remove this client from its room.
func (c *Client) Leave() error {
	c.mu.Lock()
	code := c.code
	c.code = ""
	c.mu.Unlock()

	if code == "" {
		return nil
	}
	return c.enqueue(c.control, &pairing.Message{Type: pairing.TypeLeaveRoom, Code: code})
}

// Events returns the stream of room events. It is closed by Disconnect.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Disconnect closes the connection and stops every goroutine. Nothing is
// delivered on Events after it returns. Safe to call more than once.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		code := c.code
		c.code = ""
		c.mu.Unlock()

		if code != "" {
			select {
			case c.control <- &pairing.Message{Type: pairing.TypeLeaveRoom, Code: code}:
			default:
				c.log.Debug("control queue full, skipping leave", "code", code)
			}
		}
		close(c.done)

		c.wg.Wait()

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()

	drain:
		for {
			select {
			case <-c.events:
			default:
				break drain
			}
		}
		close(c.events)
	})
}
