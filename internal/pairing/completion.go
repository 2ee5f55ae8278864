package pairing

import (
	"context"
	"sync"
)

// Outcome is how a pairing attempt answered its caller.
type Outcome int

const (
	OutcomeCode Outcome = iota + 1
	OutcomeAlreadyLinked
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCode:
		return "code"
	case OutcomeAlreadyLinked:
		return "already-linked"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Result is the one answer a Completion carries.
type Result struct {
	Identity string
	Attempt  string
	Outcome  Outcome
	Code     string
	Err      error
}

// Completion is a single-assignment cell. The first Fill wins; later fills
// are ignored and report false.
type Completion struct {
	once sync.Once
	done chan struct{}
	res  Result
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Fill stores r if the cell is still empty and reports whether it did.
func (c *Completion) Fill(r Result) bool {
	filled := false
	c.once.Do(func() {
		c.res = r
		filled = true
		close(c.done)
	})
	return filled
}

// Done is closed once the cell is filled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the stored result and whether there is one.
func (c *Completion) Result() (Result, bool) {
	select {
	case <-c.done:
		return c.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the cell is filled or ctx ends. A failed outcome is
// returned with its error.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.res, c.res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
