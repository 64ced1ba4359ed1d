// Package scripted provides a deterministic Checker that replays per-outlet
// scripts. It backs the test server and the orchestration tests.
package scripted

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/model"
)

// Name is the registry name of the scripted checker.
const Name = "scripted"

// ErrScripted is the recoverable error returned by Fail steps.
var ErrScripted = errors.New("scripted failure")

// Step is the outcome of one scripted attempt.
type Step struct {
	Status string
	Err    error
	Delay  time.Duration
}

// Succeed returns a step reporting status after delay.
func Succeed(status string, delay time.Duration) Step {
	return Step{Status: status, Delay: delay}
}

// Fail returns a recoverable failure step.
func Fail(delay time.Duration) Step {
	return Step{Err: ErrScripted, Delay: delay}
}

// FailTerminal returns a terminal failure step.
func FailTerminal(delay time.Duration) Step {
	return Step{Err: checker.Terminal(errors.New("outlet selector not found")), Delay: delay}
}

// Checker replays scripted steps. Attempt n of an outlet uses step n of its
// script; the last step repeats once the script is exhausted. Outlets without
// a script use the fallback step.
type Checker struct {
	fallback Step

	mu       sync.Mutex
	scripts  map[string][]Step
	attempts map[string]int

	opened    atomic.Int64
	closed    atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64
}

// Compile-time interface satisfaction check.
var _ checker.Checker = (*Checker)(nil)

// New creates a scripted checker whose unscripted outlets behave like fallback.
func New(fallback Step) *Checker {
	return &Checker{
		fallback: fallback,
		scripts:  make(map[string][]Step),
		attempts: make(map[string]int),
	}
}

// Name implements checker.Checker.
func (c *Checker) Name() string { return Name }

// Script sets the attempt sequence for one outlet.
func (c *Checker) Script(outletID string, steps ...Step) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[outletID] = steps
	return c
}

// Attempts returns how many attempts were made for outletID.
func (c *Checker) Attempts(outletID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[outletID]
}

// TotalAttempts returns the number of attempts across all outlets.
func (c *Checker) TotalAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.attempts {
		total += n
	}
	return total
}

// Sessions returns how many sessions were opened and closed.
func (c *Checker) Sessions() (opened, closed int) {
	return int(c.opened.Load()), int(c.closed.Load())
}

// MaxConcurrent returns the highest number of simultaneously running checks.
func (c *Checker) MaxConcurrent() int {
	return int(c.maxActive.Load())
}

// Open implements checker.Checker.
func (c *Checker) Open(_ context.Context) (checker.Session, error) {
	c.opened.Add(1)
	return &session{c: c}, nil
}

func (c *Checker) next(outletID string) Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[outletID]++
	steps, ok := c.scripts[outletID]
	if !ok || len(steps) == 0 {
		return c.fallback
	}
	i := c.attempts[outletID] - 1
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i]
}

type session struct {
	c      *Checker
	closed atomic.Bool
}

func (s *session) Check(ctx context.Context, outlet model.Outlet) (string, error) {
	step := s.c.next(outlet.ID)

	n := s.c.active.Add(1)
	defer s.c.active.Add(-1)
	for {
		cur := s.c.maxActive.Load()
		if n <= cur || s.c.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if step.Err != nil {
		return "", step.Err
	}
	return step.Status, nil
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.c.closed.Add(1)
	}
	return nil
}
