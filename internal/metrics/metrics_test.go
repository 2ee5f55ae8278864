package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nextlevelbuilder/walink/internal/bus"
)

func TestObserve_TracksSessionGauge(t *testing.T) {
	b := bus.New()
	Observe(b)

	base := testutil.ToFloat64(SessionsByState.WithLabelValues("open"))

	b.Broadcast(bus.Event{Name: bus.EventSessionState, Payload: bus.SessionState{Identity: "1", From: "", To: "connecting"}})
	b.Broadcast(bus.Event{Name: bus.EventSessionState, Payload: bus.SessionState{Identity: "1", From: "connecting", To: "open"}})

	if got := testutil.ToFloat64(SessionsByState.WithLabelValues("open")); got != base+1 {
		t.Errorf("open gauge = %v, want %v", got, base+1)
	}

	b.Broadcast(bus.Event{Name: bus.EventSessionState, Payload: bus.SessionState{Identity: "1", From: "open", To: "terminated"}})
	if got := testutil.ToFloat64(SessionsByState.WithLabelValues("open")); got != base {
		t.Errorf("open gauge after terminate = %v, want %v", got, base)
	}
	if got := testutil.ToFloat64(SessionsByState.WithLabelValues("terminated")); got != 0 {
		t.Errorf("terminated gauge = %v, want 0", got)
	}
}

func TestObserve_CountsPairingResults(t *testing.T) {
	b := bus.New()
	Observe(b)

	before := testutil.ToFloat64(PairingResultsTotal.WithLabelValues("code"))
	b.Broadcast(bus.Event{Name: bus.EventPairingResult, Payload: bus.PairingResult{Outcome: "code"}})
	if got := testutil.ToFloat64(PairingResultsTotal.WithLabelValues("code")); got != before+1 {
		t.Errorf("code results = %v, want %v", got, before+1)
	}
}

func TestIncOutboxDrop_DefaultsLabels(t *testing.T) {
	before := testutil.ToFloat64(OutboxDroppedTotal.WithLabelValues("unknown", "unknown"))
	IncOutboxDrop("", "")
	if got := testutil.ToFloat64(OutboxDroppedTotal.WithLabelValues("unknown", "unknown")); got != before+1 {
		t.Errorf("drops = %v, want %v", got, before+1)
	}
}
