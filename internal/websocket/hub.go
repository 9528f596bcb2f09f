package websocket

import (
	"strings"

	"Garame/internal/game/manager"

	"github.com/charmbracelet/log"
)

type Hub struct {
	clients map[*Client]bool
	groups  map[string]map[*Client]bool // group → members
	member  map[*Client]string          // client → group

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	outbound   chan outboundReq // group broadcasts and direct sends share one FIFO
	quit       chan struct{}

	log *log.Logger

	// OnDisconnect 在玩家最后一个连接离开对局组时调用（独立 goroutine）
	OnDisconnect func(gameID, userID string)
}

type membership struct {
	client *Client
	group  string
}

// outboundReq goes to Client alone when set, otherwise to Group.
type outboundReq struct {
	Group   string
	Client  *Client
	Message OutgoingMessage
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		member:     make(map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		outbound:   make(chan outboundReq, 256),
		quit:       make(chan struct{}),
		log:        logger.WithPrefix("ws"),
	}
}

func (h *Hub) Run() {
	h.log.Info("hub started")
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("register", "conn", c.ID, "user", c.UserID, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Debug("unregister", "conn", c.ID, "user", c.UserID, "clients", len(h.clients))
			}

		case m := <-h.join:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			h.removeFromGroup(m.client)
			if h.groups[m.group] == nil {
				h.groups[m.group] = make(map[*Client]bool)
			}
			h.groups[m.group][m.client] = true
			h.member[m.client] = m.group

		case m := <-h.leave:
			if h.member[m.client] == m.group {
				h.removeFromGroup(m.client)
			}

		case req := <-h.outbound:
			if req.Client != nil {
				if _, ok := h.clients[req.Client]; ok {
					h.deliver(req.Client, req.Message)
				}
				continue
			}
			for c := range h.groups[req.Group] {
				h.deliver(c, req.Message)
			}

		case <-h.quit:
			for c := range h.clients {
				close(c.Send)
			}
			h.clients = make(map[*Client]bool)
			return
		}
	}
}

// deliver never blocks the hub: a client whose buffer is full is dropped and
// recovers with a snapshot after reconnecting.
func (h *Hub) deliver(c *Client, msg OutgoingMessage) {
	select {
	case c.Send <- msg:
	default:
		h.log.Warn("slow client dropped", "conn", c.ID, "user", c.UserID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.removeFromGroup(c)
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) removeFromGroup(c *Client) {
	group, ok := h.member[c]
	if !ok {
		return
	}
	delete(h.member, c)
	members := h.groups[group]
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	for other := range members {
		if other.UserID == c.UserID {
			return
		}
	}
	gameID, isGame := strings.CutPrefix(group, "game:")
	if !isGame {
		return
	}
	for other := range members {
		h.deliver(other, OutgoingMessage{
			Event: EventPlayerDisconnected,
			Data:  PresencePayload{GameID: gameID, PlayerID: c.UserID},
		})
	}
	if h.OnDisconnect != nil {
		go h.OnDisconnect(gameID, c.UserID)
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Join moves c into group, leaving its previous group.
func (h *Hub) Join(c *Client, group string) {
	select {
	case h.join <- membership{client: c, group: group}:
	case <-h.quit:
	}
}

func (h *Hub) Leave(c *Client, group string) {
	select {
	case h.leave <- membership{client: c, group: group}:
	case <-h.quit:
	}
}

// Broadcast to every connection of a group
func (h *Hub) Broadcast(group string, msg OutgoingMessage) {
	select {
	case h.outbound <- outboundReq{Group: group, Message: msg}:
	case <-h.quit:
	}
}

// SendTo a single connection (safe concurrent)
func (h *Hub) SendTo(c *Client, msg OutgoingMessage) {
	select {
	case h.outbound <- outboundReq{Client: c, Message: msg}:
	case <-h.quit:
	}
}

// BroadcastUpdate relays an accepted game transition to the game group.
func (h *Hub) BroadcastUpdate(u manager.Update) {
	h.Broadcast(gameGroup(u.GameID), OutgoingMessage{Event: EventGameUpdate, Data: u})
}

func (h *Hub) Close() {
	close(h.quit)
}
