package bot

import (
	"Garame/internal/game/card"
	"Garame/internal/game/engine"
)

// Brain picks one card among the legal plays. plays is never empty.
type Brain interface {
	Choose(state *engine.GameState, playerID string, plays []card.Card) card.Card
}

// EasyBot always sheds its lowest legal card.
type EasyBot struct{}

func (b *EasyBot) Choose(_ *engine.GameState, _ string, plays []card.Card) card.Card {
	return lowest(plays)
}

// MediumBot takes the trick as cheaply as it can, otherwise sheds low.
type MediumBot struct{}

func (b *MediumBot) Choose(state *engine.GameState, _ string, plays []card.Card) card.Card {
	best, ok := engine.BestPlay(state)
	if !ok {
		return highest(plays)
	}
	if c, ok := cheapestWinner(plays, best.Card); ok {
		return c
	}
	return lowest(plays)
}

// HardBot plays like MediumBot but keeps its 3s back for a kora finish.
type HardBot struct {
	MediumBot
}

func (b *HardBot) Choose(state *engine.GameState, playerID string, plays []card.Card) card.Card {
	_, others := splitKora(plays)
	if len(others) == 0 {
		return b.MediumBot.Choose(state, playerID, plays)
	}

	best, ok := engine.BestPlay(state)
	if !ok {
		return highest(others)
	}
	if c, ok := cheapestWinner(others, best.Card); ok {
		return c
	}
	return lowest(others)
}

func lowest(cards []card.Card) card.Card {
	out := cards[0]
	for _, c := range cards[1:] {
		if c.Rank < out.Rank || (c.Rank == out.Rank && c.Suit < out.Suit) {
			out = c
		}
	}
	return out
}

func highest(cards []card.Card) card.Card {
	out := cards[0]
	for _, c := range cards[1:] {
		if c.Rank > out.Rank || (c.Rank == out.Rank && c.Suit > out.Suit) {
			out = c
		}
	}
	return out
}

// cheapestWinner is the lowest card of best's suit that beats it.
func cheapestWinner(cards []card.Card, best card.Card) (card.Card, bool) {
	var wins []card.Card
	for _, c := range cards {
		if c.Suit == best.Suit && c.Rank > best.Rank {
			wins = append(wins, c)
		}
	}
	if len(wins) == 0 {
		return card.Card{}, false
	}
	return lowest(wins), true
}

// splitKora separates the 3s, which score a kora on the last trick.
func splitKora(cards []card.Card) (threes, others []card.Card) {
	for _, c := range cards {
		if c.Rank == card.MinRank {
			threes = append(threes, c)
		} else {
			others = append(others, c)
		}
	}
	return threes, others
}
