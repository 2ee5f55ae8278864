package dispatch

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/transport"
	"github.com/nextlevelbuilder/walink/internal/transport/fake"
)

type recorder struct {
	mu      sync.Mutex
	msgs    []transport.Message
	deletes []transport.MessageDeleted
	reply   string
}

func (r *recorder) HandleMessage(out Outbox, msg transport.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	if r.reply != "" {
		out.Send(msg.Key.Chat, transport.Payload{Text: r.reply})
	}
}

func (r *recorder) HandleDelete(out Outbox, ev transport.MessageDeleted) {
	r.mu.Lock()
	r.deletes = append(r.deletes, ev)
	r.mu.Unlock()
}

func (r *recorder) messages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) deleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deletes)
}

type panicker struct{}

func (panicker) HandleMessage(Outbox, transport.Message) { panic("boom") }

func newHandle(t *testing.T) *fake.Handle {
	t.Helper()
	h, err := fake.New().NewHandle("2348012345678", nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h.(*fake.Handle)
}

func msg(chat, id, text string) transport.Message {
	return transport.Message{Key: transport.MessageKey{Chat: chat, Sender: chat, ID: id}, Text: text}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatcher_AttachIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds := &recorder{}
	d := New("2348012345678", Responders{Commands: cmds}, Options{})
	h := newHandle(t)

	d.Attach(h)
	d.Attach(h)
	if n := h.SubscriberCount(transport.KindMessage); n != 1 {
		t.Fatalf("message subscribers = %d, want 1", n)
	}

	h.Emit(msg("a@s.whatsapp.net", "1", ".alive"))
	if n := cmds.messages(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}

	d.Detach()
	if n := h.SubscriberCount(transport.KindMessage); n != 0 {
		t.Errorf("subscribers after detach = %d, want 0", n)
	}
	d.Detach()
}

func TestDispatcher_ReattachMovesToNewHandle(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds := &recorder{}
	d := New("2348012345678", Responders{Commands: cmds}, Options{})
	old := newHandle(t)
	next := newHandle(t)

	d.Attach(old)
	d.Attach(next)
	defer d.Detach()

	if n := old.SubscriberCount(transport.KindMessage); n != 0 {
		t.Errorf("stale handle subscribers = %d, want 0", n)
	}
	if n := next.SubscriberCount(transport.KindMessage); n != 1 {
		t.Errorf("new handle subscribers = %d, want 1", n)
	}
	if d.Attached(old) || !d.Attached(next) {
		t.Error("Attached reports wrong handle")
	}

	old.Emit(msg("a@s.whatsapp.net", "1", "x"))
	next.Emit(msg("a@s.whatsapp.net", "2", "y"))
	if n := cmds.messages(); n != 1 {
		t.Errorf("deliveries = %d, want 1 (stale handle ignored)", n)
	}
}

func TestDispatcher_Routing(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds, status, dels := &recorder{}, &recorder{}, &recorder{}
	d := New("2348012345678", Responders{Commands: cmds, Status: status, Deletes: dels}, Options{})
	h := newHandle(t)
	d.Attach(h)
	defer d.Detach()

	h.Emit(msg(transport.StatusBroadcast, "s1", ""))
	h.Emit(msg("a@s.whatsapp.net", "m1", "hi"))
	h.Emit(transport.MessageDeleted{Keys: []transport.MessageKey{{Chat: "a@s.whatsapp.net", ID: "m0"}}})

	if status.messages() != 1 || cmds.messages() != 1 || dels.deleted() != 1 {
		t.Errorf("status=%d commands=%d deletes=%d, want 1 each", status.messages(), cmds.messages(), dels.deleted())
	}
}

func TestDispatcher_DropsDuplicateDeliveries(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds := &recorder{}
	d := New("2348012345678", Responders{Commands: cmds}, Options{DedupeTTL: time.Minute, DedupeSize: 10})
	h := newHandle(t)
	d.Attach(h)
	defer d.Detach()

	h.Emit(msg("a@s.whatsapp.net", "m1", "hi"))
	h.Emit(msg("a@s.whatsapp.net", "m1", "hi"))
	h.Emit(msg("b@s.whatsapp.net", "m1", "hi"))
	if n := cmds.messages(); n != 2 {
		t.Errorf("deliveries = %d, want 2", n)
	}
}

func TestDispatcher_SlowSendDoesNotBlockDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds := &recorder{reply: "pong"}
	d := New("2348012345678", Responders{Commands: cmds}, Options{QueueSize: 2})
	h := newHandle(t)

	release := make(chan struct{})
	h.SetSendHook(func(fake.Sent) error {
		<-release
		return nil
	})
	d.Attach(h)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Emit(msg("a@s.whatsapp.net", string(rune('a'+i)), "ping"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event delivery blocked on a slow send")
	}
	if n := cmds.messages(); n != 10 {
		t.Errorf("deliveries = %d, want 10", n)
	}

	close(release)
	waitFor(t, "first send", func() bool { return len(h.Sent()) >= 1 })
	d.Detach()
}

func TestDispatcher_RecoversResponderPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := bus.New()
	var mu sync.Mutex
	var failures []bus.ResponderFailed
	b.Subscribe("test", func(e bus.Event) {
		if p, ok := e.Payload.(bus.ResponderFailed); ok {
			mu.Lock()
			failures = append(failures, p)
			mu.Unlock()
		}
	})

	status := &recorder{}
	d := New("2348012345678", Responders{Commands: panicker{}, Status: status}, Options{Bus: b})
	h := newHandle(t)
	d.Attach(h)
	defer d.Detach()

	h.Emit(msg("a@s.whatsapp.net", "m1", ".alive"))
	h.Emit(msg(transport.StatusBroadcast, "s1", ""))

	if status.messages() != 1 {
		t.Error("delivery stopped after a responder panic")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || failures[0].Responder != RouteCommands {
		t.Errorf("failures = %+v, want one from %q", failures, RouteCommands)
	}
}

func TestDispatcher_NotifyRequiresAttach(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New("2348012345678", Responders{}, Options{})
	if d.Notify("pairing", "self@s.whatsapp.net", transport.Payload{Text: "x"}) {
		t.Fatal("Notify succeeded while detached")
	}

	h := newHandle(t)
	d.Attach(h)
	if !d.Notify("pairing", "self@s.whatsapp.net", transport.Payload{Text: "connected"}) {
		t.Fatal("Notify rejected while attached")
	}
	waitFor(t, "notice", func() bool { return len(h.Sent()) == 1 })
	d.Detach()

	if got := h.Sent()[0]; got.To != "self@s.whatsapp.net" || got.Payload.Text != "connected" {
		t.Errorf("sent = %+v", got)
	}
}

func TestDispatcher_DuplicateWindowExpires(t *testing.T) {
	defer goleak.VerifyNone(t)

	cmds := &recorder{}
	d := New("2348012345678", Responders{Commands: cmds}, Options{DedupeTTL: time.Minute})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }
	h := newHandle(t)
	d.Attach(h)
	defer d.Detach()

	h.Emit(msg("a@s.whatsapp.net", "m1", "hi"))
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	h.Emit(msg("a@s.whatsapp.net", "m1", "hi"))

	if n := cmds.messages(); n != 2 {
		t.Errorf("deliveries = %d, want 2 after the window expired", n)
	}
}
