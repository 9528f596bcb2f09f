package engine

import (
	"time"

	"Garame/internal/game/card"
)

// PlayerView is what other participants may see about a seat.
type PlayerView struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Position    int         `json:"position"`
	IsAI        bool        `json:"isAI"`
	HandCount   int         `json:"handCount"`
	Hand        []card.Card `json:"hand,omitempty"`
	CardsWon    int         `json:"cardsWon"`
	KorasWon    int         `json:"korasWon"`
	HasFolded   bool        `json:"hasFolded"`
	IsConnected bool        `json:"isConnected"`
}

// View is the client projection of a GameState: hands are hidden except
// the viewer's own.
type View struct {
	ID              string       `json:"id"`
	RoomID          string       `json:"roomId"`
	GameType        string       `json:"gameType"`
	Status          Status       `json:"status"`
	CurrentPlayerID string       `json:"currentPlayerId,omitempty"`
	Turn            int64        `json:"turn"`
	Pot             int64        `json:"pot"`
	Round           int          `json:"round"`
	LeaderID        string       `json:"leaderId,omitempty"`
	Table           []Play       `json:"table"`
	LastTrick       *Trick       `json:"lastTrick,omitempty"`
	Players         []PlayerView `json:"players"`
	WinnerID        string       `json:"winnerId,omitempty"`
	Winners         []string     `json:"winners"`
	Kora            int          `json:"kora"`
	StartedAt       time.Time    `json:"startedAt"`
	EndedAt         *time.Time   `json:"endedAt,omitempty"`
}

// NewView projects s for viewerID. An empty viewer gets the public view.
func NewView(s *GameState, viewerID string) View {
	v := View{
		ID:              s.ID,
		RoomID:          s.RoomID,
		GameType:        s.GameType,
		Status:          s.Status,
		CurrentPlayerID: s.CurrentPlayerID,
		Turn:            s.Turn,
		Pot:             s.Pot,
		Round:           s.Metadata.Round,
		LeaderID:        s.Metadata.LeaderID,
		Table:           append([]Play{}, s.Metadata.Table...),
		Players:         make([]PlayerView, 0, len(s.Order)),
		WinnerID:        s.WinnerID,
		Winners:         append([]string{}, s.Winners...),
		Kora:            s.Metadata.Kora,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
	}
	if n := len(s.Metadata.Tricks); n > 0 {
		last := s.Metadata.Tricks[n-1]
		v.LastTrick = &last
	}
	for _, id := range s.Order {
		p := s.Players[id]
		pv := PlayerView{
			ID:          p.ID,
			Name:        p.Name,
			Position:    p.Position,
			IsAI:        p.IsAI,
			HandCount:   len(p.Hand),
			CardsWon:    len(p.CardsWon),
			KorasWon:    p.KorasWon,
			HasFolded:   p.HasFolded,
			IsConnected: p.IsConnected,
		}
		if viewerID != "" && id == viewerID {
			pv.Hand = append([]card.Card{}, p.Hand...)
		}
		v.Players = append(v.Players, pv)
	}
	return v
}
