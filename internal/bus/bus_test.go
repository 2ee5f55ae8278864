package bus

import "testing"

func TestBus_BroadcastToSubscribers(t *testing.T) {
	b := New()
	var a, c int
	b.Subscribe("a", func(Event) { a++ })
	b.Subscribe("c", func(Event) { c++ })

	b.Broadcast(Event{Name: EventSessionState})
	b.Unsubscribe("c")
	b.Broadcast(Event{Name: EventSessionState})

	if a != 2 {
		t.Errorf("a received %d events, want 2", a)
	}
	if c != 1 {
		t.Errorf("c received %d events, want 1", c)
	}
}

func TestBus_SubscribeReplacesSameID(t *testing.T) {
	b := New()
	var first, second int
	b.Subscribe("x", func(Event) { first++ })
	b.Subscribe("x", func(Event) { second++ })
	b.Broadcast(Event{Name: EventPairingResult})
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestBus_NilBroadcastIsNoop(t *testing.T) {
	var b *Bus
	b.Broadcast(Event{Name: EventSessionState})
}
