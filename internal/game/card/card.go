package card

import (
	"fmt"
	"strconv"
	"strings"
)

// Suits are 0-3: clubs, diamonds, hearts, spades.
const (
	Clubs = iota
	Diamonds
	Hearts
	Spades
)

// Garame plays with ranks 3 to 10 only.
const (
	MinRank = 3
	MaxRank = 10
)

// Card 定义 (suit 0-3, rank 3-10)
type Card struct {
	Suit int `json:"suit"`
	Rank int `json:"rank"`
}

var suitSymbols = []string{"♣", "♦", "♥", "♠"}
var suitLetters = []string{"C", "D", "H", "S"}

func (c Card) String() string {
	suitStr := "?"
	if c.Suit >= 0 && c.Suit < len(suitSymbols) {
		suitStr = suitSymbols[c.Suit]
	}
	return strconv.Itoa(c.Rank) + suitStr
}

// Valid reports whether c belongs to the Garame deck.
func (c Card) Valid() bool {
	return c.Suit >= Clubs && c.Suit <= Spades && c.Rank >= MinRank && c.Rank <= MaxRank
}

// Code is the compact wire form, e.g. "7H".
func (c Card) Code() string {
	if c.Suit < 0 || c.Suit >= len(suitLetters) {
		return strconv.Itoa(c.Rank) + "?"
	}
	return strconv.Itoa(c.Rank) + suitLetters[c.Suit]
}

// Parse reads the Code form back.
func Parse(s string) (Card, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	rank, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Card{}, fmt.Errorf("invalid card rank %q", s)
	}
	suit := strings.Index(strings.Join(suitLetters, ""), s[len(s)-1:])
	c := Card{Suit: suit, Rank: rank}
	if suit < 0 || !c.Valid() {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	return c, nil
}

// Deck returns the 32 Garame cards in a fixed order.
func Deck() []Card {
	deck := make([]Card, 0, 4*(MaxRank-MinRank+1))
	for s := Clubs; s <= Spades; s++ {
		for r := MinRank; r <= MaxRank; r++ {
			deck = append(deck, Card{Suit: s, Rank: r})
		}
	}
	return deck
}

// IndexOf returns the position of c in cards or -1.
func IndexOf(cards []Card, c Card) int {
	for i, x := range cards {
		if x == c {
			return i
		}
	}
	return -1
}

// HasSuit reports whether any card in cards has the given suit.
func HasSuit(cards []Card, suit int) bool {
	for _, x := range cards {
		if x.Suit == suit {
			return true
		}
	}
	return false
}

// Remove returns a copy of cards without c.
func Remove(cards []Card, c Card) []Card {
	out := make([]Card, 0, len(cards))
	removed := false
	for _, x := range cards {
		if !removed && x == c {
			removed = true
			continue
		}
		out = append(out, x)
	}
	return out
}
