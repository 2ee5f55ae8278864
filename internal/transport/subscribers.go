package transport

import (
	"sort"
	"sync"
)

// Subscribers is the per-handle subscription registry used by Handle
// implementations. Unsubscribing is idempotent.
type Subscribers struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Kind]map[int]func(Event)
}

// Subscribe registers fn for kind and returns its unsubscribe func.
func (s *Subscribers) Subscribe(kind Kind, fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[Kind]map[int]func(Event))
	}
	if s.subs[kind] == nil {
		s.subs[kind] = make(map[int]func(Event))
	}
	s.nextID++
	id := s.nextID
	s.subs[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[kind], id)
			s.mu.Unlock()
		})
	}
}

// Count returns the number of live subscriptions for kind.
func (s *Subscribers) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[kind])
}

// Emit calls every subscriber of ev's kind in subscription order.
// The registry lock is not held while callbacks run.
func (s *Subscribers) Emit(ev Event) {
	s.mu.RLock()
	m := s.subs[ev.Kind()]
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Reset drops every subscription.
func (s *Subscribers) Reset() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}
