package websocket

import (
	"context"
	"encoding/json"
	"time"

	"Garame/internal/errs"
	"Garame/internal/game/engine"
	"Garame/internal/matchmaker"

	"github.com/charmbracelet/log"
)

const requestTimeout = 5 * time.Second

// GameService is the game side the wire layer forwards to; it never runs
// rules itself.
type GameService interface {
	Snapshot(ctx context.Context, gameID, viewerID string) (engine.View, error)
	ProcessAction(ctx context.Context, gameID string, action engine.GameAction) (*engine.GameState, error)
	SetConnected(ctx context.Context, gameID, playerID string, connected bool) error
}

type RoomService interface {
	GetRoom(ctx context.Context, roomID string) (*matchmaker.Room, error)
}

// Router 处理客户端上行事件
type Router struct {
	hub   *Hub
	games GameService
	rooms RoomService
	log   *log.Logger
}

func NewRouter(hub *Hub, games GameService, rooms RoomService, logger *log.Logger) *Router {
	r := &Router{hub: hub, games: games, rooms: rooms, log: logger.WithPrefix("ws")}
	hub.OnDisconnect = func(gameID, userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := games.SetConnected(ctx, gameID, userID, false); err != nil {
			r.log.Debug("mark disconnected", "game", gameID, "user", userID, "err", err)
		}
	}
	return r
}

func (r *Router) Handle(c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Event {
	case EventPing:
		r.hub.SendTo(c, OutgoingMessage{Event: EventPong, Data: map[string]int64{"ts": time.Now().UnixMilli()}})

	case EventJoinGame:
		var p JoinPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || (p.GameID == "" && p.RoomID == "") {
			r.fail(c, errs.ErrBadRequest)
			return
		}
		if p.GameID != "" {
			r.joinGame(ctx, c, p.GameID)
		} else {
			r.joinRoom(ctx, c, p.RoomID)
		}

	case EventLeaveGame:
		var p JoinPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.fail(c, errs.ErrBadRequest)
			return
		}
		group := gameGroup(p.GameID)
		presence := PresencePayload{GameID: p.GameID, PlayerID: c.UserID}
		if p.GameID == "" {
			group = roomGroup(p.RoomID)
			presence = PresencePayload{RoomID: p.RoomID, PlayerID: c.UserID}
		}
		r.hub.Leave(c, group)
		r.hub.Broadcast(group, OutgoingMessage{Event: EventPlayerLeft, Data: presence})

	case EventGameAction:
		var p ActionPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.GameID == "" {
			r.fail(c, errs.ErrBadRequest)
			return
		}
		_, err := r.games.ProcessAction(ctx, p.GameID, engine.GameAction{
			Type: p.Action, PlayerID: c.UserID, Card: p.Payload.Card,
		})
		if err != nil {
			// 只回给提交者，其他玩家视图不受影响
			r.fail(c, err)
		}

	default:
		r.hub.SendTo(c, OutgoingMessage{Event: EventError, Data: ErrorPayload{Message: "unknown event " + msg.Event, Kind: errs.Kind(errs.ErrBadRequest)}})
	}
}

// joinGame subscribes first, then answers with a full snapshot, so no
// update falls between the two.
func (r *Router) joinGame(ctx context.Context, c *Client, gameID string) {
	group := gameGroup(gameID)
	r.hub.Join(c, group)
	view, err := r.games.Snapshot(ctx, gameID, c.UserID)
	if err != nil {
		r.hub.Leave(c, group)
		r.fail(c, err)
		return
	}
	r.hub.SendTo(c, OutgoingMessage{Event: EventRoomState, Data: RoomState{Game: &view}})
	r.hub.Broadcast(group, OutgoingMessage{Event: EventPlayerJoined, Data: PresencePayload{GameID: gameID, PlayerID: c.UserID}})

	for _, p := range view.Players {
		if p.ID == c.UserID && !p.IsConnected {
			if err := r.games.SetConnected(ctx, gameID, c.UserID, true); err != nil {
				r.log.Warn("mark connected", "game", gameID, "user", c.UserID, "err", err)
			}
		}
	}
}

func (r *Router) joinRoom(ctx context.Context, c *Client, roomID string) {
	if r.rooms == nil {
		r.fail(c, errs.ErrBadRequest)
		return
	}
	group := roomGroup(roomID)
	r.hub.Join(c, group)
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		r.hub.Leave(c, group)
		r.fail(c, err)
		return
	}
	r.hub.SendTo(c, OutgoingMessage{Event: EventRoomState, Data: RoomState{Room: room}})
}

func (r *Router) fail(c *Client, err error) {
	r.hub.SendTo(c, OutgoingMessage{Event: EventError, Data: ErrorPayload{Message: err.Error(), Kind: errs.Kind(err)}})
}
