package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Disabled(t *testing.T) {
	l := New("test", 0, 0)
	if l.Enabled() {
		t.Fatal("limiter with 0 rpm should be disabled")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("k") {
		t.Fatal("nil limiter rejected a request")
	}
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New("test", 60, 3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.Allow("a") {
		t.Error("request beyond burst allowed")
	}
	if !l.Allow("b") {
		t.Error("independent key rejected")
	}

	// One token refills per second at 60 rpm.
	l.now = func() time.Time { return base.Add(time.Second) }
	if !l.Allow("a") {
		t.Error("request after refill rejected")
	}
}

func TestLimiter_SweepsIdleKeys(t *testing.T) {
	l := New("test", 60, 1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	l.Allow("old")

	l.now = func() time.Time { return base.Add(idleAfter + sweepEvery + time.Second) }
	l.Allow("new")

	if n := l.Len(); n != 1 {
		t.Errorf("tracked keys = %d, want 1", n)
	}
}
