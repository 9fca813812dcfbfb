package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned once a StepBudget is exhausted.
var ErrBudgetExceeded = errors.New("step budget exceeded")

// StepBudget enforces a maximum number of dispatch iterations per turn.
type StepBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepBudget creates a budget of max steps.
// If max == 0, unlimited steps are allowed.
func NewStepBudget(max int) *StepBudget {
	return &StepBudget{max: max}
}

// Increment consumes one step and returns an error if the budget is exceeded.
func (b *StepBudget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%w: %d", ErrBudgetExceeded, b.max)
	}
	b.count++

	return nil
}

// Count returns the number of steps taken.
func (b *StepBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many steps are left before hitting the limit.
func (b *StepBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
