package engine

import (
	"sort"
	"time"

	"Garame/internal/game/card"
	"Garame/internal/game/dealer"
)

const (
	GameTypeGarame = "garame"
	garameHandSize = 5
	garameMinSeats = 2
	garameMaxSeats = 6
	garameKoraRank = 3
	koraSingle     = 1
	koraDouble     = 2
)

// Garame is a trick-taking game: follow suit, highest card of the lead
// suit takes the trick, whoever takes the last trick wins the pot.
type Garame struct{}

func NewGarame() *Garame {
	return &Garame{}
}

func (g *Garame) GameType() string { return GameTypeGarame }
func (g *Garame) MinPlayers() int  { return garameMinSeats }
func (g *Garame) MaxPlayers() int  { return garameMaxSeats }

func (g *Garame) CreateInitialState(setup Setup) (*GameState, error) {
	n := len(setup.Seats)
	if n < garameMinSeats || n > garameMaxSeats {
		return nil, ErrPlayerCount
	}
	seats := append([]Seat(nil), setup.Seats...)
	sort.Slice(seats, func(i, j int) bool { return seats[i].Position < seats[j].Position })

	order := make([]string, n)
	seen := make(map[string]bool, n)
	for i, s := range seats {
		if s.Position != i || s.ID == "" || seen[s.ID] {
			return nil, ErrInvalidSeats
		}
		seen[s.ID] = true
		order[i] = s.ID
	}

	d := dealer.NewDealer(setup.Seed)
	d.NewDeck()
	hands, err := d.DealHands(order, garameHandSize)
	if err != nil {
		return nil, err
	}

	players := make(map[string]*PlayerState, n)
	for _, s := range seats {
		players[s.ID] = &PlayerState{
			ID:           s.ID,
			Name:         s.Name,
			Position:     s.Position,
			IsAI:         s.IsAI,
			AIDifficulty: s.AIDifficulty,
			Hand:         hands[s.ID],
			CardsWon:     []card.Card{},
			IsConnected:  true,
		}
	}

	// Position 0 deals; the seat to the dealer's left acts first.
	first := order[1%n]
	return &GameState{
		ID:              setup.GameID,
		GameType:        GameTypeGarame,
		RoomID:          setup.RoomID,
		CurrentPlayerID: first,
		Players:         players,
		Order:           order,
		Stake:           setup.Stake,
		Pot:             setup.Pot,
		Status:          StatusPlaying,
		Winners:         []string{},
		Turn:            0,
		StartedAt:       setup.StartedAt,
		UpdatedAt:       setup.StartedAt,
		Metadata: Metadata{
			Seed:     setup.Seed,
			HandSize: garameHandSize,
			Round:    1,
			LeaderID: first,
			Table:    []Play{},
			Tricks:   []Trick{},
		},
	}, nil
}

func (g *Garame) ValidateAction(state *GameState, a GameAction) error {
	if state == nil {
		return ErrNoState
	}
	if state.Status != StatusPlaying {
		return ErrGameNotPlaying
	}
	p, ok := state.Players[a.PlayerID]
	if !ok {
		return ErrNotAPlayer
	}
	if !p.Active() {
		return ErrPlayerInactive
	}

	switch a.Type {
	case ActionForfeit:
		return nil
	case ActionPlayCard:
		if state.CurrentPlayerID != a.PlayerID {
			return ErrOutOfTurn
		}
		if a.Card == nil {
			return ErrCardRequired
		}
		if card.IndexOf(p.Hand, *a.Card) < 0 {
			return ErrCardNotInHand
		}
		if lead, ok := leadPlay(state); ok && a.Card.Suit != lead.Card.Suit && card.HasSuit(p.Hand, lead.Card.Suit) {
			return ErrMustFollowSuit
		}
		return nil
	default:
		return ErrUnknownAction
	}
}

func (g *Garame) ApplyAction(state *GameState, a GameAction) (*GameState, error) {
	if err := g.ValidateAction(state, a); err != nil {
		return nil, err
	}
	next := state.Clone()
	next.Turn++

	switch a.Type {
	case ActionPlayCard:
		p := next.Players[a.PlayerID]
		p.Hand = card.Remove(p.Hand, *a.Card)
		next.Metadata.Table = append(next.Metadata.Table, Play{PlayerID: a.PlayerID, Card: *a.Card})
	case ActionForfeit:
		p := next.Players[a.PlayerID]
		p.HasFolded = true
		p.Hand = []card.Card{}
		if active := next.ActivePlayers(); len(active) == 1 {
			finish(next, active, a.At)
			return next, nil
		}
	}

	if trickComplete(next) {
		g.resolveTrick(next, a.At)
		return next, nil
	}
	if next.CurrentPlayerID == a.PlayerID {
		next.CurrentPlayerID = nextToPlay(next, a.PlayerID)
		if len(next.Metadata.Table) == 0 {
			next.Metadata.LeaderID = next.CurrentPlayerID
		}
	}
	return next, nil
}

func (g *Garame) ValidActions(state *GameState, playerID string) []GameAction {
	forfeit := GameAction{Type: ActionForfeit, PlayerID: playerID}
	if g.ValidateAction(state, forfeit) != nil {
		return nil
	}

	out := []GameAction{}
	if state.CurrentPlayerID == playerID {
		hand := append([]card.Card(nil), state.Players[playerID].Hand...)
		sort.Slice(hand, func(i, j int) bool {
			if hand[i].Suit != hand[j].Suit {
				return hand[i].Suit < hand[j].Suit
			}
			return hand[i].Rank < hand[j].Rank
		})
		for i := range hand {
			a := GameAction{Type: ActionPlayCard, PlayerID: playerID, Card: &hand[i]}
			if g.ValidateAction(state, a) == nil {
				out = append(out, a)
			}
		}
	}
	return append(out, forfeit)
}

func (g *Garame) IsGameOver(state *GameState) bool {
	return state != nil && state.Status.Terminal()
}

func (g *Garame) Winners(state *GameState) []string {
	if state == nil {
		return nil
	}
	return append([]string(nil), state.Winners...)
}

func (g *Garame) resolveTrick(s *GameState, at time.Time) {
	win, _ := BestPlay(s)

	winner := s.Players[win.PlayerID]
	for _, p := range s.Metadata.Table {
		winner.CardsWon = append(winner.CardsWon, p.Card)
	}
	s.Metadata.Tricks = append(s.Metadata.Tricks, Trick{
		Round:    s.Metadata.Round,
		Plays:    s.Metadata.Table,
		WinnerID: win.PlayerID,
		Winning:  win.Card,
	})
	s.Metadata.Table = []Play{}

	if handsExhausted(s) {
		kora := koraFor(s.Metadata.Tricks)
		winner.KorasWon = kora
		s.Metadata.Kora = kora
		finish(s, []string{win.PlayerID}, at)
		return
	}
	s.Metadata.Round++
	s.Metadata.LeaderID = win.PlayerID
	s.CurrentPlayerID = win.PlayerID
}

// koraFor scores the last tricks: one kora for taking the last trick with
// a 3, two when the same player also took the one before with a 3.
func koraFor(tricks []Trick) int {
	n := len(tricks)
	if n == 0 || tricks[n-1].Winning.Rank != garameKoraRank {
		return 0
	}
	if n >= 2 && tricks[n-2].WinnerID == tricks[n-1].WinnerID && tricks[n-2].Winning.Rank == garameKoraRank {
		return koraDouble
	}
	return koraSingle
}

// leadPlay is the first card on the table laid by a player still in the game.
func leadPlay(s *GameState) (Play, bool) {
	for _, p := range s.Metadata.Table {
		if s.Players[p.PlayerID].Active() {
			return p, true
		}
	}
	return Play{}, false
}

func hasPlayed(s *GameState, playerID string) bool {
	for _, p := range s.Metadata.Table {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

func trickComplete(s *GameState) bool {
	if _, ok := leadPlay(s); !ok {
		return false
	}
	for _, id := range s.ActivePlayers() {
		if !hasPlayed(s, id) {
			return false
		}
	}
	return true
}

func handsExhausted(s *GameState) bool {
	for _, id := range s.ActivePlayers() {
		if len(s.Players[id].Hand) > 0 {
			return false
		}
	}
	return true
}

// nextToPlay walks the seats clockwise from `from` and returns the first
// active player who has not played in the current trick.
func nextToPlay(s *GameState, from string) string {
	idx := 0
	for i, id := range s.Order {
		if id == from {
			idx = i
			break
		}
	}
	n := len(s.Order)
	for i := 1; i <= n; i++ {
		id := s.Order[(idx+i)%n]
		if s.Players[id].Active() && !hasPlayed(s, id) {
			return id
		}
	}
	return ""
}

func finish(s *GameState, winners []string, at time.Time) {
	sort.Slice(winners, func(i, j int) bool {
		return s.Players[winners[i]].Position < s.Players[winners[j]].Position
	})
	s.Status = StatusFinished
	s.Winners = winners
	s.WinnerID = winners[0]
	s.CurrentPlayerID = ""
	s.EndedAt = &at
}

// LeadPlay returns the play that sets the suit of the current trick.
func LeadPlay(s *GameState) (Play, bool) {
	return leadPlay(s)
}

// BestPlay returns the play currently winning the trick on the table.
func BestPlay(s *GameState) (Play, bool) {
	lead, ok := leadPlay(s)
	if !ok {
		return Play{}, false
	}
	best := lead
	for _, p := range s.Metadata.Table {
		if s.Players[p.PlayerID].Active() && p.Card.Suit == lead.Card.Suit && p.Card.Rank > best.Card.Rank {
			best = p
		}
	}
	return best, true
}
