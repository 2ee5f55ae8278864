// Package dispatch routes inbound transport events for one session to the
// responders.
//
// A Dispatcher owns the subscriptions on exactly one handle at a time.
// Attaching to the same handle again is a no-op; attaching to a new handle
// tears the previous subscriptions and outbox down first. Responders run on the
// transport's delivery goroutine, in order, and hand their sends to a bounded
// outbox so a slow network call never stalls the next event.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/metrics"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// Responder names used in logs and metrics.
const (
	RouteCommands = "commands"
	RouteStatus   = "status"
	RouteDeletes  = "deletes"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 30 * time.Second
	defaultDedupeTTL   = 20 * time.Minute
	defaultDedupeSize  = 5000
)

// MessageResponder handles an inbound message.
type MessageResponder interface {
	HandleMessage(out Outbox, msg transport.Message)
}

// DeleteResponder handles retracted messages.
type DeleteResponder interface {
	HandleDelete(out Outbox, ev transport.MessageDeleted)
}

// Responders is the routing table. Nil entries drop their events.
type Responders struct {
	Commands MessageResponder
	Status   MessageResponder
	Deletes  DeleteResponder
}

// Options tunes a Dispatcher. Zero values pick defaults.
type Options struct {
	QueueSize   int
	SendTimeout time.Duration
	DedupeTTL   time.Duration
	DedupeSize  int
	Bus         *bus.Bus
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = defaultDedupeTTL
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = defaultDedupeSize
	}
	return o
}

// Dispatcher fans one session's events out to its responders.
type Dispatcher struct {
	identity string
	routes   Responders
	opts     Options
	seen     *lru.Cache[string, time.Time]
	now      func() time.Time

	mu     sync.Mutex
	handle transport.Handle
	unsubs []func()
	box    *outbox
}

// New creates a detached dispatcher for identity.
func New(identity string, routes Responders, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	seen, _ := lru.New[string, time.Time](opts.DedupeSize) // size is always positive here
	return &Dispatcher{
		identity: identity,
		routes:   routes,
		opts:     opts,
		seen:     seen,
		now:      time.Now,
	}
}

// Attach subscribes to h's message streams. It is idempotent per handle.
func (d *Dispatcher) Attach(h transport.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == h {
		return
	}
	d.detachLocked()

	box := newOutbox(d.identity, h, d.opts.QueueSize, d.opts.SendTimeout, d.opts.Bus)
	d.handle = h
	d.box = box
	d.unsubs = []func(){
		h.Subscribe(transport.KindMessage, func(ev transport.Event) {
			if msg, ok := ev.(transport.Message); ok {
				d.onMessage(h, box, msg)
			}
		}),
		h.Subscribe(transport.KindMessageDeleted, func(ev transport.Event) {
			if del, ok := ev.(transport.MessageDeleted); ok {
				d.onDelete(h, box, del)
			}
		}),
	}
	slog.Debug("dispatch: attached", "identity", d.identity)
}

// Detach drops the subscriptions and stops the outbox. Safe to call when detached.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detachLocked()
}

func (d *Dispatcher) detachLocked() {
	if d.handle == nil {
		return
	}
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.box.stop()
	d.box = nil
	d.handle = nil
	slog.Debug("dispatch: detached", "identity", d.identity)
}

// Attached reports whether h is the current handle.
func (d *Dispatcher) Attached(h transport.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return h != nil && d.handle == h
}

// Notify queues a send on the current handle under the given responder name.
// It reports false when detached or the queue is full.
func (d *Dispatcher) Notify(responder, to string, p transport.Payload) bool {
	d.mu.Lock()
	box := d.box
	d.mu.Unlock()
	if box == nil {
		return false
	}
	v := view{o: box, responder: responder}
	return box.enqueue(job{
		responder: responder,
		op:        "send",
		run:       v.sendFunc(to, p),
	})
}

// current reports whether events from h should still be handled.
func (d *Dispatcher) current(h transport.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle == h
}

func (d *Dispatcher) onMessage(h transport.Handle, box *outbox, msg transport.Message) {
	if !d.current(h) {
		return
	}
	if d.duplicate(msg.Key) {
		metrics.DuplicatesTotal.Inc()
		slog.Debug("dispatch: duplicate delivery", "identity", d.identity, "chat", msg.Key.Chat, "id", msg.Key.ID)
		return
	}
	if msg.IsStatus() {
		if d.routes.Status != nil {
			d.safely(RouteStatus, func() { d.routes.Status.HandleMessage(view{o: box, responder: RouteStatus}, msg) })
		}
		return
	}
	if d.routes.Commands != nil {
		d.safely(RouteCommands, func() { d.routes.Commands.HandleMessage(view{o: box, responder: RouteCommands}, msg) })
	}
}

func (d *Dispatcher) onDelete(h transport.Handle, box *outbox, ev transport.MessageDeleted) {
	if !d.current(h) || d.routes.Deletes == nil {
		return
	}
	d.safely(RouteDeletes, func() { d.routes.Deletes.HandleDelete(view{o: box, responder: RouteDeletes}, ev) })
}

func (d *Dispatcher) duplicate(key transport.MessageKey) bool {
	if key.ID == "" {
		return false
	}
	k := key.Chat + "/" + key.ID
	now := d.now()
	if at, ok := d.seen.Get(k); ok && now.Sub(at) < d.opts.DedupeTTL {
		return true
	}
	d.seen.Add(k, now)
	return false
}

// safely runs a responder, converting a panic into a logged ResponderFailure.
func (d *Dispatcher) safely(route string, fn func()) {
	metrics.IncDispatched(route)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Sprintf("panic: %v", r)
			slog.Error("dispatch: responder panicked", "identity", d.identity, "responder", route, "error", err)
			metrics.IncResponderFailure(route)
			d.opts.Bus.Broadcast(bus.Event{
				Name:    bus.EventResponderFailed,
				Payload: bus.ResponderFailed{Identity: d.identity, Responder: route, Error: err},
			})
		}
	}()
	fn()
}
