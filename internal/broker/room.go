package broker

import (
	"time"

	"github.com/kkrugley/pinq/internal/pairing"
)

// Room is a pairing code with at most two members.
type Room struct {
	Code    string
	members []*member

	expiresAt time.Time
	timer     Timer

	// gen is stamped from the hub's counter on every renewal, so it is
	// unique across rooms that reuse a code. A timer fire carrying any
	// other generation is stale and ignored.
	gen uint64
}

type member struct {
	client *Client
	role   pairing.Role
	token  string
}

func newRoom(code string) *Room {
	return &Room{Code: code}
}

func (r *Room) find(c *Client) *member {
	for _, m := range r.members {
		if m.client == c {
			return m
		}
	}
	return nil
}

func (r *Room) findToken(token string) *member {
	if token == "" {
		return nil
	}
	for _, m := range r.members {
		if m.token == token {
			return m
		}
	}
	return nil
}

func (r *Room) add(m *member) {
	r.members = append(r.members, m)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m.client == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// others returns every member except c.
func (r *Room) others(c *Client) []*member {
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		if m.client != c {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) full() bool {
	return len(r.members) >= pairing.MaxMembers
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}

// peersOf describes everyone but c for a room-joined reply.
func (r *Room) peersOf(c *Client) []pairing.PeerInfo {
	var peers []pairing.PeerInfo
	for _, m := range r.others(c) {
		peers = append(peers, pairing.PeerInfo{ID: m.client.id, Role: m.role, ClientType: m.client.clientType})
	}
	return peers
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	Code      string
	Roles     []pairing.Role
	ExpiresAt time.Time
}

func (r *Room) info() RoomInfo {
	roles := make([]pairing.Role, len(r.members))
	for i, m := range r.members {
		roles[i] = m.role
	}
	return RoomInfo{Code: r.Code, Roles: roles, ExpiresAt: r.expiresAt}
}
