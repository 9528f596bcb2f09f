package engine

import (
	"sort"
	"sync"
)

// GameEngine is the rule set of one game type. Implementations are pure:
// they never mutate their inputs and never read the clock.
type GameEngine interface {
	GameType() string
	MinPlayers() int
	MaxPlayers() int

	// CreateInitialState deals and seats the players; status playing, turn 0.
	CreateInitialState(setup Setup) (*GameState, error)
	// ValidateAction returns nil when ApplyAction would accept the action.
	ValidateAction(state *GameState, action GameAction) error
	// ApplyAction returns the next state, advancing turn by exactly one.
	ApplyAction(state *GameState, action GameAction) (*GameState, error)
	// ValidActions lists exactly the actions ValidateAction accepts for playerID.
	ValidActions(state *GameState, playerID string) []GameAction

	IsGameOver(state *GameState) bool
	Winners(state *GameState) []string
}

// IsValid is the boolean form of ValidateAction.
func IsValid(e GameEngine, state *GameState, action GameAction) bool {
	return e.ValidateAction(state, action) == nil
}

// Registry maps a gameType to its engine.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]GameEngine
}

func NewRegistry(engines ...GameEngine) *Registry {
	r := &Registry{engines: make(map[string]GameEngine)}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

func (r *Registry) Register(e GameEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.GameType()] = e
}

// Get fails with ErrUnknownGameType for unregistered types.
func (r *Registry) Get(gameType string) (GameEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[gameType]
	if !ok {
		return nil, ErrUnknownGameType
	}
	return e, nil
}

// Types lists the registered game types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
