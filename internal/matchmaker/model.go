package matchmaker

import (
	"fmt"
	"time"

	"Garame/internal/errs"
)

type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomStarting   RoomStatus = "starting"
	RoomInProgress RoomStatus = "in_progress"
	RoomFinished   RoomStatus = "finished"
	RoomCancelled  RoomStatus = "cancelled"
)

// Open rooms hold their players' "current room" slot.
func (s RoomStatus) Open() bool {
	return s == RoomWaiting || s == RoomStarting || s == RoomInProgress
}

var allRoomStatuses = []RoomStatus{RoomWaiting, RoomStarting, RoomInProgress, RoomFinished, RoomCancelled}

// Settings 房间设置，Extra 对存储层是不透明的
type Settings struct {
	TurnDurationSeconds int            `json:"turnDurationSeconds"`
	Private             bool           `json:"private"`
	AllowAI             bool           `json:"allowAI"`
	MaxPlayers          int            `json:"maxPlayers"`
	Extra               map[string]any `json:"extra,omitempty"`
}

type RoomPlayer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Position     int       `json:"position"`
	IsAI         bool      `json:"isAI"`
	AIDifficulty string    `json:"aiDifficulty,omitempty"`
	IsReady      bool      `json:"isReady"`
	StakeRef     string    `json:"stakeRef,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Room 房间。等待阶段满足 TotalPot == Stake * 已付注玩家数
type Room struct {
	ID        string       `json:"id"`
	GameType  string       `json:"gameType"`
	CreatorID string       `json:"creatorId"`
	Stake     int64        `json:"stake"`
	TotalPot  int64        `json:"totalPot"`
	Status    RoomStatus   `json:"status"`
	Settings  Settings     `json:"settings"`
	Players   []RoomPlayer `json:"players"`
	GameID    string       `json:"gameId,omitempty"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]RoomPlayer(nil), r.Players...)
	if r.Settings.Extra != nil {
		c.Settings.Extra = make(map[string]any, len(r.Settings.Extra))
		for k, v := range r.Settings.Extra {
			c.Settings.Extra[k] = v
		}
	}
	return &c
}

func (r *Room) Player(id string) (RoomPlayer, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}
	return RoomPlayer{}, false
}

// Humans returns the ids of the non-AI players in seat order.
func (r *Room) Humans() []string {
	var out []string
	for _, p := range r.Players {
		if !p.IsAI {
			out = append(out, p.ID)
		}
	}
	return out
}

// PlayerIDs returns every seat id in seat order.
func (r *Room) PlayerIDs() []string {
	out := make([]string, len(r.Players))
	for i, p := range r.Players {
		out[i] = p.ID
	}
	return out
}

// Actor is the authenticated caller of a room operation.
type Actor struct {
	ID   string
	Name string
}

// CreateRoomRequest 创建房间
type CreateRoomRequest struct {
	GameType string   `json:"gameType" binding:"required"`
	Stake    int64    `json:"stake" binding:"required,gt=0"`
	Settings Settings `json:"settings"`
}

// JoinRoomRequest 加入房间；AsAI 由房主为房间添加 AI 座位
type JoinRoomRequest struct {
	AsAI         bool   `json:"asAI"`
	AIDifficulty string `json:"aiDifficulty"`
}

type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// StartResponse 开局结果
type StartResponse struct {
	RoomID string `json:"roomId"`
	GameID string `json:"gameId"`
}

var (
	ErrRoomNotFound   = fmt.Errorf("room not found: %w", errs.ErrNotFound)
	ErrRoomNotWaiting = fmt.Errorf("room is not waiting for players: %w", errs.ErrInvalidState)
	ErrRoomFull       = fmt.Errorf("room is full: %w", errs.ErrInvalidState)
	ErrAlreadyJoined  = fmt.Errorf("player already in this room: %w", errs.ErrInvalidState)
	ErrAlreadyInRoom  = fmt.Errorf("player already sits in another open room: %w", errs.ErrInvalidState)
	ErrNotInRoom      = fmt.Errorf("player is not in this room: %w", errs.ErrNotFound)
	ErrNotReady       = fmt.Errorf("room is not ready to start: %w", errs.ErrInvalidState)
	ErrNotCreator     = fmt.Errorf("only the room creator may do this: %w", errs.ErrForbidden)
	ErrAINotAllowed   = fmt.Errorf("room does not accept AI seats: %w", errs.ErrInvalidState)
	ErrBadStake       = fmt.Errorf("stake out of bounds: %w", errs.ErrBadRequest)
	ErrBadSettings    = fmt.Errorf("invalid room settings: %w", errs.ErrBadRequest)
	ErrRoomExists     = fmt.Errorf("room already exists: %w", errs.ErrAlreadyExists)
	ErrVersion        = fmt.Errorf("room changed concurrently: %w", errs.ErrConflict)
)
