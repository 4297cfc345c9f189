/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Contact lifecycle
	EventContactCreated     EventType = "contact.created"
	EventContactUpdated     EventType = "contact.updated"
	EventContactDeleted     EventType = "contact.deleted"
	EventContactSnoozed     EventType = "contact.snoozed"
	EventContactFollowedUp  EventType = "contact.followed_up"
	EventContactDone        EventType = "contact.done"
	EventContactReactivated EventType = "contact.reactivated"

	// Meetups
	EventEventCreated EventType = "event.created"

	// Planning
	EventCatchupScheduled     EventType = "catchup.scheduled"
	EventCalendarConnected    EventType = "calendar.connected"
	EventCalendarDisconnected EventType = "calendar.disconnected"

	// Reminders and sharing
	EventReminderCreated EventType = "reminder.created"
	EventShareCreated    EventType = "share.created"
	EventShareAccepted   EventType = "share.accepted"
	EventProfileUpdated  EventType = "profile.updated"
)

// AllEventTypes lists every event a user-facing stream may carry.
func AllEventTypes() []EventType {
	return []EventType{
		EventContactCreated,
		EventContactUpdated,
		EventContactDeleted,
		EventContactSnoozed,
		EventContactFollowedUp,
		EventContactDone,
		EventContactReactivated,
		EventEventCreated,
		EventCatchupScheduled,
		EventCalendarConnected,
		EventCalendarDisconnected,
		EventReminderCreated,
		EventShareCreated,
		EventShareAccepted,
		EventProfileUpdated,
	}
}

// Payload generic event payload.
type Payload map[string]any

// UserID returns the owning user of the event, if the publisher set one.
func (p Payload) UserID() string {
	if v, ok := p["user_id"].(string); ok {
		return v
	}
	return ""
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the write side of a bus. Services depend on this.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a full pub/sub implementation, in-process or distributed.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
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
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Full subscribers miss the event.
func (b *Bus) Publish(eventType EventType, payload Payload) {
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

// Unsubscribe removes the subscriber. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SubscriberCount reports the number of local subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
