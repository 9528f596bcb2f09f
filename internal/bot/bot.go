package bot

import (
	"fmt"
	"strings"

	"Garame/internal/errs"
	"Garame/internal/game/card"
	"Garame/internal/game/engine"
)

// Difficulty levels accepted on AI seats.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var (
	ErrUnknownDifficulty = fmt.Errorf("unknown bot difficulty: %w", errs.ErrBadRequest)
	ErrNoMove            = fmt.Errorf("bot has no card to play: %w", errs.ErrInvalidState)
)

// NewBrain creates a brain for the given difficulty. An empty level is medium.
func NewBrain(level string) (Brain, error) {
	switch strings.ToLower(level) {
	case DifficultyEasy:
		return &EasyBot{}, nil
	case "", DifficultyMedium:
		return &MediumBot{}, nil
	case DifficultyHard:
		return &HardBot{}, nil
	default:
		return nil, ErrUnknownDifficulty
	}
}

// ValidDifficulty reports whether level names a brain.
func ValidDifficulty(level string) bool {
	_, err := NewBrain(level)
	return err == nil
}

// Provider answers "what does this AI seat play now" for any registered
// game type. It only ever returns one of the engine's ValidActions.
type Provider struct {
	registry *engine.Registry
}

func NewProvider(registry *engine.Registry) *Provider {
	return &Provider{registry: registry}
}

func (p *Provider) NextAction(state *engine.GameState, playerID, difficulty string) (engine.GameAction, error) {
	e, err := p.registry.Get(state.GameType)
	if err != nil {
		return engine.GameAction{}, err
	}
	brain, err := NewBrain(difficulty)
	if err != nil {
		return engine.GameAction{}, err
	}

	var plays []card.Card
	byCard := make(map[card.Card]engine.GameAction)
	for _, a := range e.ValidActions(state, playerID) {
		if a.Type != engine.ActionPlayCard || a.Card == nil {
			continue
		}
		plays = append(plays, *a.Card)
		byCard[*a.Card] = a
	}
	if len(plays) == 0 {
		return engine.GameAction{}, ErrNoMove
	}
	return byCard[brain.Choose(state, playerID, plays)], nil
}
