// Package fake provides a scriptable in-memory transport for tests.
//
// Handles record every call made on them and deliver events only when the
// test (or an OnOpen hook) emits them, synchronously on the emitting goroutine.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/nextlevelbuilder/walink/internal/transport"
)

// ErrClosed is returned by calls on a closed handle.
var ErrClosed = errors.New("fake: handle closed")

// Sent records one Send call.
type Sent struct {
	To      string
	Payload transport.Payload
}

// Transport hands out fake handles and remembers them in creation order.
type Transport struct {
	// NewHandleErr makes NewHandle fail.
	NewHandleErr error
	// OnOpen runs inside Handle.Open; its error is returned from Open.
	// When nil, Open emits ConnectionChanged{Open, Linked: creds != nil}.
	OnOpen func(h *Handle) error
	// OnClose runs inside Handle.Close after the handle is marked closed.
	// Tests use it to make Close stall.
	OnClose func(h *Handle)
	// PairingCode is returned by RequestPairingCode unless PairingErr is set.
	PairingCode string
	PairingErr  error
	// SelfAddress is reported by Handle.Self.
	SelfAddress string

	mu      sync.Mutex
	handles []*Handle
	opened  chan *Handle
}

// New returns a Transport with a default pairing code and self address.
func New() *Transport {
	return &Transport{
		PairingCode: "ABCD-1234",
		SelfAddress: "self@s.whatsapp.net",
		opened:      make(chan *Handle, 64),
	}
}

func (t *Transport) NewHandle(identity string, creds []byte) (transport.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.NewHandleErr != nil {
		return nil, t.NewHandleErr
	}
	h := &Handle{
		t:        t,
		Identity: identity,
		Creds:    append([]byte(nil), creds...),
		hadCreds: creds != nil,
	}
	t.handles = append(t.handles, h)
	return h, nil
}

// Handles returns every handle created so far.
func (t *Transport) Handles() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Handle(nil), t.handles...)
}

// Last returns the most recently created handle, or nil.
func (t *Transport) Last() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

// Opened delivers each handle after its Open call returned successfully.
func (t *Transport) Opened() <-chan *Handle { return t.opened }

// Handle is a fake connection.
type Handle struct {
	t        *Transport
	Identity string
	Creds    []byte
	hadCreds bool

	subs transport.Subscribers

	mu           sync.Mutex
	openCalls    int
	closed       bool
	codeRequests []string
	sent         []Sent
	reads        []transport.MessageKey
	sendHook     func(Sent) error
}

func (h *Handle) Subscribe(kind transport.Kind, fn func(transport.Event)) func() {
	return h.subs.Subscribe(kind, fn)
}

// SubscriberCount returns the live subscriptions for kind.
func (h *Handle) SubscriberCount(kind transport.Kind) int {
	return h.subs.Count(kind)
}

// Emit delivers ev to subscribers on the calling goroutine.
func (h *Handle) Emit(ev transport.Event) {
	h.subs.Emit(ev)
}

func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.openCalls++
	h.mu.Unlock()

	if h.t.OnOpen != nil {
		if err := h.t.OnOpen(h); err != nil {
			return err
		}
	} else {
		h.Emit(transport.ConnectionChanged{State: transport.StateOpen, Linked: h.hadCreds})
	}
	select {
	case h.t.opened <- h:
	default:
	}
	return nil
}

func (h *Handle) RequestPairingCode(_ context.Context, phone string) (string, error) {
	h.mu.Lock()
	h.codeRequests = append(h.codeRequests, phone)
	h.mu.Unlock()
	if h.t.PairingErr != nil {
		return "", h.t.PairingErr
	}
	return h.t.PairingCode, nil
}

// CodeRequests returns the phones a pairing code was requested for.
func (h *Handle) CodeRequests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.codeRequests...)
}

// SetSendHook installs fn to run inside Send; a non-nil error fails the send.
func (h *Handle) SetSendHook(fn func(Sent) error) {
	h.mu.Lock()
	h.sendHook = fn
	h.mu.Unlock()
}

func (h *Handle) Send(_ context.Context, to string, p transport.Payload) error {
	s := Sent{To: to, Payload: p}
	h.mu.Lock()
	hook := h.sendHook
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if hook != nil {
		if err := hook(s); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.sent = append(h.sent, s)
	h.mu.Unlock()
	return nil
}

// Sent returns the recorded sends.
func (h *Handle) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sent(nil), h.sent...)
}

func (h *Handle) MarkRead(_ context.Context, keys ...transport.MessageKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads = append(h.reads, keys...)
	return nil
}

// Reads returns the keys marked read.
func (h *Handle) Reads() []transport.MessageKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transport.MessageKey(nil), h.reads...)
}

func (h *Handle) Self() string { return h.t.SelfAddress }

func (h *Handle) Close() error {
	h.mu.Lock()
	already := h.closed
	h.closed = true
	h.mu.Unlock()
	if !already && h.t.OnClose != nil {
		h.t.OnClose(h)
	}
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// OpenCalls returns how many times Open ran.
func (h *Handle) OpenCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openCalls
}
