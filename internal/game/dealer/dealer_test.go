package dealer

import (
	"testing"

	"Garame/internal/game/card"
)

// 工具：检查是否有重复牌
func hasDuplicates(cards []card.Card) bool {
	seen := make(map[card.Card]bool)
	for _, c := range cards {
		if seen[c] {
			return true
		}
		seen[c] = true
	}
	return false
}

func TestNewDeck(t *testing.T) {
	d := NewDealer(7)
	d.NewDeck()

	if d.Remaining() != 32 {
		t.Fatalf("expected 32 cards, got %d", d.Remaining())
	}
	if hasDuplicates(d.deck) {
		t.Fatalf("deck should not contain duplicates")
	}
	for _, c := range d.deck {
		if !c.Valid() {
			t.Fatalf("card %v is not a Garame card", c)
		}
	}
}

func TestSameSeedSameDeck(t *testing.T) {
	d1 := NewDealer(42)
	d1.NewDeck()
	d2 := NewDealer(42)
	d2.NewDeck()

	for i := range d1.deck {
		if d1.deck[i] != d2.deck[i] {
			t.Fatalf("expected identical decks for same seed")
		}
	}

	d3 := NewDealer(99)
	d3.NewDeck()
	diff := false
	for i := range d1.deck {
		if d1.deck[i] != d3.deck[i] {
			diff = true
			break
		}
	}
	if !diff {
		t.Fatalf("expected deck with different seed to differ")
	}
}

func TestDealHands(t *testing.T) {
	d := NewDealer(1)
	d.NewDeck()
	players := []string{"A", "B", "C"}
	hands, err := d.DealHands(players, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := []card.Card{}
	for _, id := range players {
		if len(hands[id]) != 5 {
			t.Fatalf("player %s should have 5 cards, got %d", id, len(hands[id]))
		}
		all = append(all, hands[id]...)
	}
	if hasDuplicates(all) {
		t.Fatalf("hands contain duplicates")
	}
	if d.Remaining() != 32-15 {
		t.Fatalf("expected remaining deck 17, got %d", d.Remaining())
	}
}

func TestDealHandsTooManyPlayers(t *testing.T) {
	d := NewDealer(3)
	d.NewDeck()
	players := []string{"A", "B", "C", "D", "E", "F", "G"}
	if _, err := d.DealHands(players, 5); err != ErrDeckExhausted {
		t.Fatalf("expected ErrDeckExhausted, got %v", err)
	}
}
