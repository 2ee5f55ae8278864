// Package pairing runs the connection lifecycle of every linked identity.
//
// BeginPairing starts (or answers for) one session per identity. A session
// opens a transport handle, requests a pairing code when no credentials are
// stored, and keeps the link alive across recoverable disconnects with a fixed
// backoff and a bounded number of retries. The caller's Completion is filled
// exactly once with the first qualifying answer: a code, "already linked", or
// the failure that ended the attempt.
package pairing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/session"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultCodeTimeout    = 30 * time.Second
)

// AfterFunc arms a one-shot timer. stop reports whether it prevented f from running.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options configures a Manager. Transport and Store are required.
type Options struct {
	Transport transport.Transport
	Store     session.Store

	// Routes and Dispatch configure the per-session event dispatcher.
	Routes   dispatch.Responders
	Dispatch dispatch.Options

	ReconnectDelay time.Duration
	// MaxReconnects bounds the retries after recoverable closes. Zero means
	// the first such close terminates the session.
	MaxReconnects int
	CodeTimeout   time.Duration

	// Notice builds the message sent to the owner on a session's first open.
	// Nil disables it.
	Notice func() transport.Payload

	Bus       *bus.Bus
	AfterFunc AfterFunc
	Now       func() time.Time
}

// Info is a point-in-time view of one session.
type Info struct {
	Identity    string    `json:"identity"`
	Attempt     string    `json:"attempt"`
	State       State     `json:"state"`
	Retries     int       `json:"retries"`
	RequestedAt time.Time `json:"requested_at"`
	Since       time.Time `json:"since"`
}

// Manager owns every live session, at most one per identity.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*attempt
	closed   bool
}

func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	if opts.CodeTimeout <= 0 {
		opts.CodeTimeout = DefaultCodeTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dispatch.Bus == nil {
		opts.Dispatch.Bus = opts.Bus
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*attempt),
	}
}

// BeginPairing starts a session for identity and returns immediately. sink is
// filled later, exactly once; a nil sink discards the answer.
func (m *Manager) BeginPairing(identity string, sink *Completion) {
	if sink == nil {
		sink = NewCompletion()
	}
	id, err := session.NormalizeIdentity(identity)
	if err != nil {
		sink.Fill(Result{Identity: identity, Outcome: OutcomeFailed, Err: ErrInvalidIdentity})
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sink.Fill(Result{Identity: id, Outcome: OutcomeFailed, Err: ErrShutdown})
		return
	}
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		existing.answerDuplicate(sink)
		return
	}
	a := newAttempt(m, id, sink)
	m.sessions[id] = a
	m.wg.Add(1)
	m.mu.Unlock()

	slog.Info("pairing: begin", "identity", id, "attempt", a.id)
	go func() {
		defer m.wg.Done()
		a.connect()
	}()
}

// Pair begins pairing and waits for the answer. When ctx ends first the
// session keeps running and ctx's error is returned.
func (m *Manager) Pair(ctx context.Context, identity string) (Result, error) {
	sink := NewCompletion()
	m.BeginPairing(identity, sink)
	return sink.Wait(ctx)
}

// Resume begins a session for every identity with stored credentials and
// returns how many were started.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	ids, err := m.opts.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		m.BeginPairing(id, nil)
	}
	if len(ids) > 0 {
		slog.Info("pairing: resumed stored sessions", "count", len(ids))
	}
	return len(ids), nil
}

// State returns the lifecycle state of identity; StateIdle when none is live.
func (m *Manager) State(identity string) State {
	id, err := session.NormalizeIdentity(identity)
	if err != nil {
		return StateIdle
	}
	m.mu.Lock()
	a, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return a.info().State
}

// Sessions snapshots every live session, ordered by identity.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	list := make([]*attempt, 0, len(m.sessions))
	for _, a := range m.sessions {
		list = append(list, a)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, a := range list {
		out = append(out, a.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Close terminates every session, keeping stored credentials, and waits for
// all lifecycle goroutines and timers to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	list := make([]*attempt, 0, len(m.sessions))
	for _, a := range m.sessions {
		list = append(list, a)
	}
	m.mu.Unlock()

	m.cancel()
	for _, a := range list {
		a.terminate(ErrShutdown, false)
	}
	m.wg.Wait()
	slog.Info("pairing: manager closed", "sessions", len(list))
}

// remove drops a from the registry if it is still the live attempt for its identity.
func (m *Manager) remove(a *attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[a.identity] == a {
		delete(m.sessions, a.identity)
	}
}

// goTracked runs f on a goroutine Close waits for. Callers must hold a
// reference that keeps the WaitGroup above zero or hold the lock of an
// attempt that is not ending.
func (m *Manager) goTracked(f func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
}

// arm schedules f after d on a tracked timer and returns its canceller.
func (m *Manager) arm(d time.Duration, f func()) func() {
	m.wg.Add(1)
	stop := m.opts.AfterFunc(d, func() {
		defer m.wg.Done()
		f()
	})
	return func() {
		if stop() {
			m.wg.Done()
		}
	}
}
