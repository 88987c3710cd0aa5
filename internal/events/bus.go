/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events implements the in-process notification bus the session
// manager uses to deliver asynchronous, non-realtime notifications.
package events

import "sync"

// EventType enumerates notification categories delivered to clients and
// observers. These mirror the client control channel message kinds from
// the external interface boundary (§6): port_registered, port_unregistered,
// graph_reordered, sample_rate_changed, buffer_size_changed, plus the
// realtime-domain-to-control-domain signals overrun and client_lost.
type EventType string

const (
	EventPortRegistered     EventType = "port_registered"
	EventPortUnregistered   EventType = "port_unregistered"
	EventGraphReordered     EventType = "graph_reordered"
	EventSampleRateChanged  EventType = "sample_rate_changed"
	EventBufferSizeChanged  EventType = "buffer_size_changed"
	EventClientActivated    EventType = "client_activated"
	EventClientDeactivated  EventType = "client_deactivated"
	EventClientShutdown     EventType = "client_shutdown"
	EventOverrun            EventType = "overrun"
	EventClientLost         EventType = "client_lost"
	EventTimebaseAcquired   EventType = "timebase_acquired"
	EventTimebaseReleased   EventType = "timebase_released"
	EventLeadershipAcquired EventType = "leadership_acquired"
	EventLeadershipLost     EventType = "leadership_lost"
)

// Payload is a generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. The cycle driver never
// imports it; its Overrun and ClientLost hooks reach it through
// session.Manager, which publishes on whichever goroutine calls it,
// including the cycle goroutine.
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

// Publish sends payload to subscribers. Non-blocking: a slow or absent
// subscriber never stalls the caller.
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

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
