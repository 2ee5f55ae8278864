package whatsapp

import (
	"sync/atomic"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/walink/internal/transport"
)

func newTestHandle(t *testing.T) *handle {
	t.Helper()
	tr := New(Options{DeviceDir: t.TempDir(), LogLevel: "error"})
	th, err := tr.NewHandle("2348012345678", nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	h := th.(*handle)
	t.Cleanup(func() {
		h.Close()
		<-h.released
	})
	return h
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s never happened", what)
	}
}

func TestHandle_CloseFromEventHandler(t *testing.T) {
	cases := []struct {
		name   string
		evt    any
		reason transport.CloseReason
	}{
		{"disconnected", &events.Disconnected{}, transport.ReasonNetwork},
		{"stream replaced", &events.StreamReplaced{}, transport.ReasonReplaced},
		{"logged out", &events.LoggedOut{}, transport.ReasonLoggedOut},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandle(t)

			var got atomic.Int32
			h.Subscribe(transport.KindConnection, func(ev transport.Event) {
				if cc := ev.(transport.ConnectionChanged); cc.Reason != tc.reason {
					t.Errorf("reason = %v, want %v", cc.Reason, tc.reason)
				}
				got.Add(1)
				if err := h.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			})

			dispatched := make(chan struct{})
			go func() {
				defer close(dispatched)
				h.client.DangerousInternals().DispatchEvent(tc.evt)
			}()
			waitClosed(t, dispatched, "return from the event callback")
			waitClosed(t, h.released, "device release")

			if n := got.Load(); n != 1 {
				t.Fatalf("callbacks = %d, want 1", n)
			}
			if err := h.db.Ping(); err == nil {
				t.Error("device db still open after release")
			}
		})
	}
}

func TestHandle_NoEventsAfterClose(t *testing.T) {
	h := newTestHandle(t)

	var got atomic.Int32
	h.Subscribe(transport.KindConnection, func(transport.Event) { got.Add(1) })
	h.Close()
	h.Close()

	h.client.DangerousInternals().DispatchEvent(&events.Disconnected{})
	if n := got.Load(); n != 0 {
		t.Errorf("callbacks after close = %d, want 0", n)
	}
	waitClosed(t, h.released, "device release")
}
