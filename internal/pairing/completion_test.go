package pairing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCompletion_FirstFillWins(t *testing.T) {
	c := NewCompletion()
	if _, ok := c.Result(); ok {
		t.Fatal("empty completion reported a result")
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Fill(Result{Outcome: OutcomeCode, Code: string(rune('A' + i))}) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Fatalf("successful fills = %d, want 1", n)
	}
	first, _ := c.Result()
	if c.Fill(Result{Outcome: OutcomeFailed, Err: errors.New("late")}) {
		t.Error("late fill accepted")
	}
	if got, _ := c.Result(); got != first {
		t.Errorf("result changed to %+v", got)
	}
}

func TestCompletion_Wait(t *testing.T) {
	c := NewCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on empty = %v, want deadline exceeded", err)
	}

	c.Fill(Result{Outcome: OutcomeFailed, Err: ErrLoggedOut})
	r, err := c.Wait(context.Background())
	if !errors.Is(err, ErrLoggedOut) || r.Outcome != OutcomeFailed {
		t.Errorf("Wait = %+v, %v", r, err)
	}
}
