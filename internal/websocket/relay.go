package websocket

import (
	"Garame/internal/events"
	"Garame/internal/game/engine"
	"Garame/internal/matchmaker"
)

// Relay forwards room and game notifications from the bus to the room
// groups. The returned func unsubscribes.
func Relay(bus *events.Bus, hub *Hub) func() {
	offRooms := bus.Subscribe("room.*", func(e events.Event) {
		room, ok := e.Payload.(*matchmaker.Room)
		if !ok {
			return
		}
		group := roomGroup(room.ID)
		switch e.Topic {
		case events.RoomPlayerJoined:
			hub.Broadcast(group, OutgoingMessage{Event: EventPlayerJoined, Data: RoomState{Room: room}})
		case events.RoomPlayerLeft:
			hub.Broadcast(group, OutgoingMessage{Event: EventPlayerLeft, Data: RoomState{Room: room}})
		case events.RoomCancelled:
			hub.Broadcast(group, OutgoingMessage{Event: EventError, Data: ErrorPayload{Message: "room cancelled", Kind: string(room.Status), Fatal: true}})
		default:
			hub.Broadcast(group, OutgoingMessage{Event: EventRoomState, Data: RoomState{Room: room}})
		}
	})

	offGames := bus.Subscribe(events.GameAbandoned, func(e events.Event) {
		view, ok := e.Payload.(engine.View)
		if !ok {
			return
		}
		msg := OutgoingMessage{Event: EventError, Data: ErrorPayload{Message: "game abandoned", Kind: string(view.Status), Fatal: true}}
		hub.Broadcast(gameGroup(view.ID), msg)
		hub.Broadcast(roomGroup(view.RoomID), msg)
	})

	return func() {
		offRooms()
		offGames()
	}
}
