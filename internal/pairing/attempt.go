package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/session"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// attempt is the state machine for one identity, from BeginPairing until
// Terminated. Every transition happens under mu; bus events raised while
// locked are flushed by unlock. Once ending is set nothing may revive the
// attempt, even while it is still Closing.
type attempt struct {
	m           *Manager
	id          string
	identity    string
	requestedAt time.Time
	sink        *Completion
	disp        *dispatch.Dispatcher

	mu             sync.Mutex
	state          State
	since          time.Time
	handle         transport.Handle
	unsubs         []func()
	hadCreds       bool
	retries        int
	retryScheduled bool
	cancelRetry    func()
	ending         bool
	codeRequested  bool
	announced      bool
	pending        []bus.Event
}

func newAttempt(m *Manager, identity string, sink *Completion) *attempt {
	now := m.opts.Now()
	return &attempt{
		m:           m,
		id:          newAttemptID(),
		identity:    identity,
		requestedAt: now,
		sink:        sink,
		disp:        dispatch.New(identity, m.opts.Routes, m.opts.Dispatch),
		state:       StateIdle,
		since:       now,
	}
}

func newAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (a *attempt) unlock() {
	events := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, e := range events {
		a.m.opts.Bus.Broadcast(e)
	}
}

func (a *attempt) setStateLocked(s State) {
	if a.state == s {
		return
	}
	from := a.state
	a.state = s
	a.since = a.m.opts.Now()
	slog.Info("pairing: state", "identity", a.identity, "attempt", a.id, "from", from.String(), "to", s.String())

	prev := from.String()
	if from == StateIdle {
		prev = ""
	}
	a.pending = append(a.pending, bus.Event{
		Name:    bus.EventSessionState,
		Payload: bus.SessionState{Identity: a.identity, Attempt: a.id, From: prev, To: s.String()},
	})
}

func (a *attempt) info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Identity:    a.identity,
		Attempt:     a.id,
		State:       a.state,
		Retries:     a.retries,
		RequestedAt: a.requestedAt,
		Since:       a.since,
	}
}

// fill answers the caller once and publishes the outcome.
func (a *attempt) fill(r Result) {
	r.Identity = a.identity
	r.Attempt = a.id
	if !a.sink.Fill(r) {
		return
	}
	p := bus.PairingResult{Identity: a.identity, Attempt: a.id, Outcome: r.Outcome.String()}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	a.m.opts.Bus.Broadcast(bus.Event{Name: bus.EventPairingResult, Payload: p})
}

// answerDuplicate answers a second BeginPairing for a live identity.
func (a *attempt) answerDuplicate(sink *Completion) {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	r := Result{Identity: a.identity, Attempt: a.id}
	if state == StateOpen {
		r.Outcome = OutcomeAlreadyLinked
	} else {
		r.Outcome = OutcomeFailed
		r.Err = ErrSessionActive
	}
	sink.Fill(r)
}

// connect loads credentials, creates a handle, subscribes and opens it.
func (a *attempt) connect() {
	a.mu.Lock()
	if a.ending {
		a.unlock()
		return
	}
	a.setStateLocked(StateConnecting)
	a.unlock()

	var blob []byte
	creds, err := a.m.opts.Store.Load(a.m.ctx, a.identity)
	switch {
	case err == nil:
		blob = creds.Blob
	case errors.Is(err, session.ErrNotFound):
	default:
		// The store may be briefly unavailable; treat it like a failed open.
		slog.Warn("pairing: load credentials failed", "identity", a.identity, "error", err)
		a.reconnectOrTerminate(nil, fmt.Errorf("%w: %v", ErrTransportOpen, err))
		return
	}

	h, err := a.m.opts.Transport.NewHandle(a.identity, blob)
	if err != nil {
		slog.Error("pairing: create handle failed", "identity", a.identity, "error", err)
		a.terminate(fmt.Errorf("%w: %v", ErrTransportOpen, err), false)
		return
	}

	a.mu.Lock()
	if a.ending {
		a.unlock()
		closeHandle(h)
		return
	}
	a.handle = h
	a.hadCreds = blob != nil
	a.unsubs = []func(){
		h.Subscribe(transport.KindConnection, func(ev transport.Event) {
			if cc, ok := ev.(transport.ConnectionChanged); ok {
				a.onConnection(h, cc)
			}
		}),
		h.Subscribe(transport.KindCredentials, func(ev transport.Event) {
			if cc, ok := ev.(transport.CredentialsChanged); ok {
				a.onCredentials(h, cc)
			}
		}),
	}
	a.unlock()

	if err := h.Open(a.m.ctx); err != nil {
		slog.Warn("pairing: open failed", "identity", a.identity, "error", err)
		a.reconnectOrTerminate(h, fmt.Errorf("%w: %v", ErrTransportOpen, err))
	}
}

func (a *attempt) onConnection(h transport.Handle, ev transport.ConnectionChanged) {
	switch ev.State {
	case transport.StateOpen:
		a.onOpen(h, ev.Linked)
	case transport.StateClosed:
		slog.Warn("pairing: connection closed", "identity", a.identity, "reason", ev.Reason.String(), "error", ev.Err)
		if ev.Reason.Terminal() {
			a.onLoggedOut(h)
			return
		}
		a.reconnectOrTerminate(h, ev.Err)
	}
}

func (a *attempt) onOpen(h transport.Handle, linked bool) {
	a.mu.Lock()
	if a.handle != h || a.ending {
		a.unlock()
		return
	}

	if linked || a.hadCreds {
		a.retries = 0
		a.setStateLocked(StateOpen)
		a.disp.Attach(h)
		if !a.announced {
			a.announced = true
			a.announceLocked(h)
		}
		a.unlock()
		a.fill(Result{Outcome: OutcomeAlreadyLinked})
		return
	}

	if a.codeRequested {
		// A code was already issued to this attempt and the link it belonged
		// to is gone; asking for another one on the same attempt is not allowed.
		a.unlock()
		a.terminate(ErrPairingExpired, false)
		return
	}
	a.codeRequested = true
	a.setStateLocked(StateAwaitingCode)
	a.m.goTracked(func() { a.requestCode(h) })
	a.unlock()
}

func (a *attempt) announceLocked(h transport.Handle) {
	if a.m.opts.Notice == nil {
		return
	}
	self := h.Self()
	if self == "" {
		slog.Warn("pairing: connected notice skipped, own address unknown", "identity", a.identity)
		return
	}
	if !a.disp.Notify("pairing", self, a.m.opts.Notice()) {
		slog.Warn("pairing: connected notice dropped", "identity", a.identity)
	}
}

func (a *attempt) requestCode(h transport.Handle) {
	ctx, cancel := context.WithTimeout(a.m.ctx, a.m.opts.CodeTimeout)
	defer cancel()

	code, err := h.RequestPairingCode(ctx, a.identity)
	if err != nil {
		slog.Error("pairing: code request failed", "identity", a.identity, "attempt", a.id, "error", err)
		a.terminate(fmt.Errorf("%w: %v", ErrPairingCode, err), false)
		return
	}

	a.mu.Lock()
	stale := a.handle != h || a.ending
	a.unlock()
	if stale {
		slog.Warn("pairing: code arrived for a closed connection, discarded", "identity", a.identity)
		return
	}
	slog.Info("pairing: code issued", "identity", a.identity, "attempt", a.id)
	a.fill(Result{Outcome: OutcomeCode, Code: code})
}

func (a *attempt) onCredentials(h transport.Handle, ev transport.CredentialsChanged) {
	a.mu.Lock()
	current := a.handle == h && !a.ending
	a.unlock()
	if !current {
		return
	}
	creds, err := a.m.opts.Store.Save(a.m.ctx, a.identity, ev.Blob)
	if err != nil {
		slog.Error("pairing: save credentials failed", "identity", a.identity, "error", err)
		return
	}
	slog.Info("pairing: credentials saved", "identity", a.identity, "revision", creds.Revision)
}

// teardownLocked releases the current handle's subscriptions and dispatcher
// and returns the handle for closing outside the lock.
func (a *attempt) teardownLocked() transport.Handle {
	h := a.handle
	if h == nil {
		return nil
	}
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	a.disp.Detach()
	a.handle = nil
	return h
}

// reconnectOrTerminate handles a recoverable close of h (nil when no handle
// was created). At most one retry timer is armed per attempt. The session is
// Closing until h has been released, then Reconnecting.
func (a *attempt) reconnectOrTerminate(h transport.Handle, cause error) {
	a.mu.Lock()
	if a.ending || a.handle != h {
		a.unlock()
		return
	}
	closing := a.teardownLocked()
	if a.retryScheduled {
		a.unlock()
		closeHandle(closing)
		return
	}
	if a.retries >= a.m.opts.MaxReconnects {
		a.unlock()
		slog.Error("pairing: giving up", "identity", a.identity, "retries", a.m.opts.MaxReconnects, "error", cause)
		a.terminate(ErrRetriesExhausted, false)
		closeHandle(closing)
		return
	}
	a.retries++
	a.retryScheduled = true
	if closing != nil {
		a.setStateLocked(StateClosing)
	}
	a.unlock()

	closeHandle(closing)

	a.mu.Lock()
	defer a.unlock()
	if a.ending {
		return
	}
	a.setStateLocked(StateReconnecting)
	slog.Info("pairing: reconnect scheduled", "identity", a.identity, "retry", a.retries, "delay", a.m.opts.ReconnectDelay)
	a.cancelRetry = a.m.arm(a.m.opts.ReconnectDelay, a.retry)
}

func (a *attempt) retry() {
	a.mu.Lock()
	a.retryScheduled = false
	a.cancelRetry = nil
	ending := a.ending
	a.unlock()
	if !ending {
		a.connect()
	}
}

func (a *attempt) onLoggedOut(h transport.Handle) {
	a.mu.Lock()
	current := a.handle == h && !a.ending
	a.unlock()
	if !current {
		return
	}
	slog.Warn("pairing: logged out, clearing credentials", "identity", a.identity)
	a.terminate(ErrLoggedOut, true)
}

// terminate ends the attempt. Credentials, the manager's table and the
// caller's answer are settled before the handle is closed, so a close that
// stalls cannot keep the identity from pairing again. It is idempotent.
func (a *attempt) terminate(cause error, clearCreds bool) {
	a.mu.Lock()
	if a.ending {
		a.unlock()
		return
	}
	a.ending = true
	h := a.teardownLocked()
	cancelRetry := a.cancelRetry
	a.cancelRetry = nil
	a.retryScheduled = false
	a.setStateLocked(StateClosing)
	a.unlock()

	if cancelRetry != nil {
		cancelRetry()
	}
	if clearCreds {
		if err := a.m.opts.Store.Clear(a.m.ctx, a.identity); err != nil {
			slog.Error("pairing: clear credentials failed", "identity", a.identity, "error", err)
		}
	}
	a.m.remove(a)

	a.mu.Lock()
	a.setStateLocked(StateTerminated)
	a.unlock()

	a.fill(Result{Outcome: OutcomeFailed, Err: cause})
	slog.Info("pairing: terminated", "identity", a.identity, "attempt", a.id, "cause", cause)
	closeHandle(h)
}

func closeHandle(h transport.Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		slog.Debug("pairing: close handle", "error", err)
	}
}
