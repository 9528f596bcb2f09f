// Package events is an in-process publish/subscribe side channel. It only
// carries notifications; readers that need the truth go to the stores.
package events

import (
	"strings"
	"sync"
	"time"
)

// Topics published by the room manager and the game service.
const (
	RoomCreated      = "room.created"
	RoomPlayerJoined = "room.player_joined"
	RoomPlayerLeft   = "room.player_left"
	RoomPlayerReady  = "room.player_ready"
	RoomStarted      = "room.started"
	RoomCancelled    = "room.cancelled"
	RoomFinished     = "room.finished"
	GameFinished     = "game.finished"
	GameAbandoned    = "game.abandoned"
)

type Event struct {
	Topic   string    `json:"topic"`
	RoomID  string    `json:"roomId"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type Handler func(Event)

type subscription struct {
	id      uint64
	pattern string
	fn      Handler
}

// Bus delivers synchronously on the publisher's goroutine, so events of one
// publisher arrive in order. Handlers must not block.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for pattern: an exact topic, a prefix ending in
// ".*" such as "room.*", or "*" for everything. The returned func removes it.
func (b *Bus) Subscribe(pattern string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	// 复制订阅者后释放锁，handler 里可以再订阅/退订
	b.mu.RLock()
	var fns []Handler
	for _, s := range b.subs {
		if match(s.pattern, e.Topic) {
			fns = append(fns, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func match(pattern, topic string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == topic
	}
}
