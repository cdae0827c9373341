/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSessionState     EventType = "session.state"
	EventSessionReconnect EventType = "session.reconnect"

	EventRoomJoined      EventType = "room.joined"
	EventRoomLeft        EventType = "room.left"
	EventRoomsListed     EventType = "room.list"
	EventPeersChanged    EventType = "room.peers"
	EventDJsChanged      EventType = "room.djs"
	EventActiveDJChanged EventType = "room.active_dj"
	EventProfileChanged  EventType = "room.profile"
	EventSkipWarning     EventType = "room.skip_warning"
	EventChatMessage     EventType = "room.chat"

	EventTrackLoading EventType = "jukebox.loading"
	EventTrackStarted EventType = "jukebox.started"
	EventTrackStopped EventType = "jukebox.stopped"
	EventTrackEnded   EventType = "jukebox.ended"
	EventVotesChanged EventType = "jukebox.votes"
	EventClockCorrect EventType = "jukebox.correction"

	EventNotification EventType = "notify"
)

// AllEventTypes lists every event the client publishes, for mirrors that
// forward the whole stream.
var AllEventTypes = []EventType{
	EventSessionState, EventSessionReconnect,
	EventRoomJoined, EventRoomLeft, EventRoomsListed, EventPeersChanged, EventDJsChanged,
	EventActiveDJChanged, EventProfileChanged, EventSkipWarning, EventChatMessage,
	EventTrackLoading, EventTrackStarted, EventTrackStopped, EventTrackEnded,
	EventVotesChanged, EventClockCorrect,
	EventNotification,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is what components need to emit events. *Bus and the NATS
// mirror both satisfy it.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Publishing never blocks: a
// subscriber that falls behind misses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. A nil bus is a no-op so components
// can run without one in tests.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
