// Package budget tracks the single wall-clock deadline shared by every task of
// a batch and divides what is left of it among the tasks still outstanding.
package budget

import (
	"sync/atomic"
	"time"
)

// DefaultSafetyMargin is the fraction of the maximum runtime held back so the
// batch can still persist and deliver its report after the last wait.
const DefaultSafetyMargin = 0.1

// Allocator holds the global deadline of one batch and the number of tasks
// that have not yet reached a terminal result. The deadline is written once at
// construction; the outstanding count is the only mutable shared field.
type Allocator struct {
	deadline    time.Time
	now         func() time.Time
	outstanding atomic.Int64
}

// New starts a budget now. The usable budget is maxRuntime*(1-margin).
func New(maxRuntime time.Duration, margin float64) *Allocator {
	return NewWithClock(time.Now, maxRuntime, margin)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(now func() time.Time, maxRuntime time.Duration, margin float64) *Allocator {
	if margin < 0 || margin >= 1 {
		margin = DefaultSafetyMargin
	}
	usable := time.Duration(float64(maxRuntime) * (1 - margin))
	return &Allocator{
		deadline: now().Add(usable),
		now:      now,
	}
}

// Deadline returns the absolute global deadline.
func (a *Allocator) Deadline() time.Time {
	return a.deadline
}

// Remaining returns the time left before the deadline, floored at zero.
func (a *Allocator) Remaining() time.Duration {
	return Remaining(a.deadline, a.now())
}

// Expired reports whether the deadline has passed.
func (a *Allocator) Expired() bool {
	return a.Remaining() <= 0
}

// SetOutstanding records the number of dispatched tasks at batch start.
func (a *Allocator) SetOutstanding(n int) {
	a.outstanding.Store(int64(n))
}

// Resolve marks one task as done and returns the new outstanding count.
// Callers must invoke it at most once per task.
func (a *Allocator) Resolve() int {
	n := a.outstanding.Add(-1)
	if n < 0 {
		a.outstanding.Store(0)
		return 0
	}
	return int(n)
}

// Outstanding returns the number of tasks without a terminal result.
func (a *Allocator) Outstanding() int {
	return int(a.outstanding.Load())
}

// PerTask returns the wait allowance for one task given the current
// outstanding count. It is recomputed on every call.
func (a *Allocator) PerTask() time.Duration {
	return PerTask(a.deadline, a.now(), a.Outstanding())
}

// Bound caps an intrinsic timeout d by the current per-task allowance.
func (a *Allocator) Bound(d time.Duration) time.Duration {
	return min(d, a.PerTask())
}

// Remaining is deadline-now floored at zero.
func Remaining(deadline, now time.Time) time.Duration {
	return max(deadline.Sub(now), 0)
}

// PerTask divides the remaining budget evenly among the outstanding tasks.
func PerTask(deadline, now time.Time, outstanding int) time.Duration {
	return Remaining(deadline, now) / time.Duration(max(outstanding, 1))
}
