package engine

import (
	"time"

	"Garame/internal/game/card"
)

// Status of a game. Transitions only move forward; see CanTransition.
type Status string

const (
	StatusPlaying   Status = "playing"
	StatusPaused    Status = "paused"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

// Terminal states are absorbing: the state is immutable afterwards.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

// CanTransition reports whether an administrative status change is allowed.
// A paused game may resume; nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPlaying:
		return to == StatusPaused || to == StatusFinished || to == StatusAbandoned
	case StatusPaused:
		return to == StatusPlaying || to == StatusFinished || to == StatusAbandoned
	}
	return false
}

type ActionType string

const (
	ActionPlayCard ActionType = "play_card"
	ActionForfeit  ActionType = "forfeit"
)

// GameAction is a client intent. At is stamped by the service when the
// action is admitted; engines use it instead of reading the clock.
type GameAction struct {
	Type     ActionType `json:"type"`
	PlayerID string     `json:"playerId"`
	Card     *card.Card `json:"card,omitempty"`
	At       time.Time  `json:"at"`
}

// PlayerState is the per-seat game data.
type PlayerState struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Position     int         `json:"position"`
	IsAI         bool        `json:"isAI"`
	AIDifficulty string      `json:"aiDifficulty,omitempty"`
	Hand         []card.Card `json:"hand"`
	CardsWon     []card.Card `json:"cardsWon"`
	KorasWon     int         `json:"korasWon"`
	HasFolded    bool        `json:"hasFolded"`
	IsConnected  bool        `json:"isConnected"`
}

// Active players are still in the game.
func (p *PlayerState) Active() bool {
	return !p.HasFolded
}

// Play is one card laid on the table.
type Play struct {
	PlayerID string    `json:"playerId"`
	Card     card.Card `json:"card"`
}

// Trick is a resolved round.
type Trick struct {
	Round    int       `json:"round"`
	Plays    []Play    `json:"plays"`
	WinnerID string    `json:"winnerId"`
	Winning  card.Card `json:"winning"`
}

// Metadata is the game-specific part of the state.
type Metadata struct {
	Seed     int64   `json:"seed"`
	HandSize int     `json:"handSize"`
	Round    int     `json:"round"`
	LeaderID string  `json:"leaderId,omitempty"`
	Table    []Play  `json:"table"`
	Tricks   []Trick `json:"tricks"`
	Kora     int     `json:"kora"`

	// TurnSeconds is enforced by the game service, not by the rules.
	TurnSeconds int `json:"turnSeconds,omitempty"`
}

// GameState is the server-authoritative snapshot of one game.
type GameState struct {
	ID              string                  `json:"id"`
	GameType        string                  `json:"gameType"`
	RoomID          string                  `json:"roomId"`
	CurrentPlayerID string                  `json:"currentPlayerId,omitempty"`
	Players         map[string]*PlayerState `json:"players"`
	Order           []string                `json:"order"`
	Stake           int64                   `json:"stake"`
	Pot             int64                   `json:"pot"`
	Status          Status                  `json:"status"`
	WinnerID        string                  `json:"winnerId,omitempty"`
	Winners         []string                `json:"winners"`
	Turn            int64                   `json:"turn"`
	StartedAt       time.Time               `json:"startedAt"`
	EndedAt         *time.Time              `json:"endedAt,omitempty"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	Metadata        Metadata                `json:"metadata"`
}

// Seat is what an engine needs to know about a room player.
type Seat struct {
	ID           string
	Name         string
	Position     int
	IsAI         bool
	AIDifficulty string
}

// Setup is the input of CreateInitialState.
type Setup struct {
	GameID    string
	RoomID    string
	Stake     int64
	Pot       int64
	Seats     []Seat
	Seed      int64
	StartedAt time.Time
}

// Clone returns a deep copy.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = make(map[string]*PlayerState, len(s.Players))
	for id, p := range s.Players {
		pc := *p
		pc.Hand = cloneSlice(p.Hand)
		pc.CardsWon = cloneSlice(p.CardsWon)
		c.Players[id] = &pc
	}
	c.Order = cloneSlice(s.Order)
	c.Winners = cloneSlice(s.Winners)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Metadata.Table = cloneSlice(s.Metadata.Table)
	c.Metadata.Tricks = cloneSlice(s.Metadata.Tricks)
	for i := range c.Metadata.Tricks {
		c.Metadata.Tricks[i].Plays = cloneSlice(c.Metadata.Tricks[i].Plays)
	}
	return &c
}

// cloneSlice copies in, keeping nil and empty distinct.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// ActivePlayers returns the ids of non-folded players in seat order.
func (s *GameState) ActivePlayers() []string {
	out := make([]string, 0, len(s.Order))
	for _, id := range s.Order {
		if p := s.Players[id]; p != nil && p.Active() {
			out = append(out, id)
		}
	}
	return out
}

// IsAI reports whether playerID is an AI seat.
func (s *GameState) IsAI(playerID string) bool {
	p := s.Players[playerID]
	return p != nil && p.IsAI
}

// WithConnection returns a copy with the player's connection flag set.
// It is not an action: turn does not move.
func WithConnection(s *GameState, playerID string, connected bool) (*GameState, error) {
	p, ok := s.Players[playerID]
	if !ok {
		return nil, ErrNotAPlayer
	}
	if s.Status.Terminal() || p.IsConnected == connected {
		return s, nil
	}
	next := s.Clone()
	next.Players[playerID].IsConnected = connected
	return next, nil
}

// WithStatus returns a copy moved to status to, ending the game at at when
// the target is terminal.
func WithStatus(s *GameState, to Status, at time.Time) (*GameState, error) {
	if s.Status == to {
		return s, nil
	}
	if !CanTransition(s.Status, to) {
		return nil, ErrStatusTransition
	}
	next := s.Clone()
	next.Status = to
	if to.Terminal() {
		next.CurrentPlayerID = ""
		next.EndedAt = &at
	}
	return next, nil
}
