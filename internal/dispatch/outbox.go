package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/metrics"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// Outbox is what responders use to talk back. Calls enqueue and return
// immediately; the actual send happens on the outbox worker.
type Outbox interface {
	Send(to string, p transport.Payload)
	MarkRead(keys ...transport.MessageKey)
	// Self is the linked account's own address.
	Self() string
	// Identity is the session the outbox belongs to.
	Identity() string
}

type job struct {
	responder string
	op        string
	run       func(ctx context.Context) error
}

// outbox drains queued sends for one attached handle.
type outbox struct {
	identity string
	sender   transport.Sender
	timeout  time.Duration
	bus      *bus.Bus

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newOutbox(identity string, sender transport.Sender, size int, timeout time.Duration, b *bus.Bus) *outbox {
	ctx, cancel := context.WithCancel(context.Background())
	o := &outbox{
		identity: identity,
		sender:   sender,
		timeout:  timeout,
		bus:      b,
		queue:    make(chan job, size),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.wg.Add(1)
	go o.loop()
	return o
}

func (o *outbox) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.queue:
			o.run(j)
		}
	}
}

func (o *outbox) run(j job) {
	ctx, cancel := context.WithTimeout(o.ctx, o.timeout)
	defer cancel()
	if err := j.run(ctx); err != nil {
		if o.ctx.Err() != nil {
			return
		}
		slog.Warn("dispatch: send failed", "identity", o.identity, "responder", j.responder, "op", j.op, "error", err)
		metrics.IncResponderFailure(j.responder)
		o.bus.Broadcast(bus.Event{
			Name:    bus.EventResponderFailed,
			Payload: bus.ResponderFailed{Identity: o.identity, Responder: j.responder, Error: err.Error()},
		})
	}
}

func (o *outbox) enqueue(j job) bool {
	if o.ctx.Err() != nil {
		metrics.IncOutboxDrop(j.responder, "detached")
		return false
	}
	select {
	case o.queue <- j:
		return true
	default:
		slog.Warn("dispatch: outbox full, dropping", "identity", o.identity, "responder", j.responder, "op", j.op)
		metrics.IncOutboxDrop(j.responder, "full")
		return false
	}
}

// stop cancels in-flight sends and waits for the worker. Queued jobs are dropped.
func (o *outbox) stop() {
	o.cancel()
	o.wg.Wait()
}

// view is an Outbox bound to one responder name for labelling.
type view struct {
	o         *outbox
	responder string
}

func (v view) Send(to string, p transport.Payload) {
	v.o.enqueue(job{responder: v.responder, op: "send", run: v.sendFunc(to, p)})
}

func (v view) sendFunc(to string, p transport.Payload) func(context.Context) error {
	return func(ctx context.Context) error { return v.o.sender.Send(ctx, to, p) }
}

func (v view) MarkRead(keys ...transport.MessageKey) {
	if len(keys) == 0 {
		return
	}
	v.o.enqueue(job{
		responder: v.responder,
		op:        "mark-read",
		run:       func(ctx context.Context) error { return v.o.sender.MarkRead(ctx, keys...) },
	})
}

func (v view) Self() string     { return v.o.sender.Self() }
func (v view) Identity() string { return v.o.identity }
