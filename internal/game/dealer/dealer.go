package dealer

import (
	"errors"
	"math/rand"

	"Garame/internal/game/card"
)

var ErrDeckExhausted = errors.New("deck exhausted")

// Dealer 只负责洗牌与发牌（无规则判断）
// The same seed always produces the same deal, which is what makes a game replayable.
type Dealer struct {
	deck []card.Card
	rnd  *rand.Rand
}

func NewDealer(seed int64) *Dealer {
	return &Dealer{
		deck: make([]card.Card, 0, 32),
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

// NewDeck 初始化一副牌并洗牌
func (d *Dealer) NewDeck() {
	d.deck = card.Deck()
	d.rnd.Shuffle(len(d.deck), func(i, j int) { d.deck[i], d.deck[j] = d.deck[j], d.deck[i] })
}

// Remaining is the number of undealt cards.
func (d *Dealer) Remaining() int {
	return len(d.deck)
}

// DealHands deals n cards to each player one at a time, in seat order.
func (d *Dealer) DealHands(players []string, n int) (map[string][]card.Card, error) {
	if len(players)*n > len(d.deck) {
		return nil, ErrDeckExhausted
	}
	out := make(map[string][]card.Card, len(players))
	for i := 0; i < n; i++ {
		for _, id := range players {
			out[id] = append(out[id], d.draw())
		}
	}
	return out, nil
}

func (d *Dealer) draw() card.Card {
	c := d.deck[0]
	d.deck = d.deck[1:]
	return c
}
