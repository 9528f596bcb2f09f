package websocket

import (
	"encoding/json"

	"Garame/internal/game/card"
	"Garame/internal/game/engine"
)

// client → server
const (
	EventJoinGame   = "join-game"
	EventLeaveGame  = "leave-game"
	EventGameAction = "game-action"
	EventPing       = "ping"
)

// server → client
const (
	EventRoomState          = "room-state"
	EventPlayerJoined       = "player-joined"
	EventPlayerLeft         = "player-left"
	EventPlayerDisconnected = "player-disconnected"
	EventGameUpdate         = "game-update"
	EventError              = "error"
	EventPong               = "pong"
)

type OutgoingMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type IncomingMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload 加入对局组；等待阶段可只给 roomId 订阅房间通知
type JoinPayload struct {
	GameID string `json:"gameId"`
	RoomID string `json:"roomId"`
}

type ActionPayload struct {
	GameID  string            `json:"gameId"`
	Action  engine.ActionType `json:"action"`
	Payload struct {
		Card *card.Card `json:"card"`
	} `json:"payload"`
}

type PresencePayload struct {
	GameID   string `json:"gameId,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	PlayerID string `json:"playerId"`
}

// ErrorPayload; Fatal tells clients the room or game is gone.
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// RoomState is the snapshot answer to a join: exactly one field is set.
type RoomState struct {
	Game *engine.View `json:"game,omitempty"`
	Room any          `json:"room,omitempty"`
}

func gameGroup(gameID string) string { return "game:" + gameID }
func roomGroup(roomID string) string { return "room:" + roomID }
