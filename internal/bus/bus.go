// Package bus broadcasts session lifecycle events to in-process subscribers
// (metrics, logging, the HTTP status view).
package bus

import (
	"sync"
)

// Event names.
const (
	EventSessionState    = "session.state"
	EventPairingResult   = "pairing.result"
	EventResponderFailed = "responder.failed"
)

// Event is one broadcast notification.
type Event struct {
	Name    string
	Payload any
}

// SessionState is the payload of EventSessionState.
type SessionState struct {
	Identity string
	Attempt  string
	From     string
	To       string
}

// PairingResult is the payload of EventPairingResult.
type PairingResult struct {
	Identity string
	Attempt  string
	Outcome  string
	Error    string
}

// ResponderFailed is the payload of EventResponderFailed.
type ResponderFailed struct {
	Identity  string
	Responder string
	Error     string
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	subscribers map[string]EventHandler
	subMu       sync.RWMutex
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under id, replacing any previous one.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast sends an event to all subscribers. A nil Bus drops the event.
func (b *Bus) Broadcast(event Event) {
	if b == nil {
		return
	}
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subscribers {
		handler(event)
	}
}
