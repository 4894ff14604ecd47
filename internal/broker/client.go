package broker

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kkrugley/pinq/internal/pairing"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP messages

	sendBuffer = 256
)

// Client is one websocket connection to the broker.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	ip   string

	// send is written only by the hub, which also closes it.
	send chan *pairing.Message

	// Owned by the hub goroutine.
	clientType string
	rooms      map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, id, ip string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		id:    id,
		ip:    ip,
		send:  make(chan *pairing.Message, sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

// ID is the connection id peers see as peerId.
func (c *Client) ID() string {
	return c.id
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("read error", "conn", c.id, "error", err)
			}
			return
		}

		msg := &pairing.Message{}
		if err := json.Unmarshal(data, msg); err != nil {
			msg = &pairing.Message{Type: "malformed"}
		}
		c.hub.submit(c, msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.log.Debug("write error", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
