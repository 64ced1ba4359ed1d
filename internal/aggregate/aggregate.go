// Package aggregate collects the terminal results produced by concurrent
// workers. Each outlet gets exactly one write path: a Slot claimed before
// dispatch and committed at most once. The collection is read once, after it
// has been sealed.
package aggregate

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/seantiz/outletwatch/internal/model"
)

var (
	// ErrDuplicate is returned when a slot is claimed twice for one outlet.
	ErrDuplicate = errors.New("outlet already claimed")

	// ErrCommitted is returned when a slot is committed a second time.
	ErrCommitted = errors.New("result already committed")

	// ErrSealed is returned for writes after the aggregator was sealed.
	ErrSealed = errors.New("aggregator sealed")
)

// Aggregator is a write-many, read-once result collection keyed by outlet id.
type Aggregator struct {
	mu       sync.Mutex
	claimed  map[string]struct{}
	resolved map[string]struct{}
	results  []model.Result
	sealed   bool
}

// New creates an aggregator sized for n outlets.
func New(n int) *Aggregator {
	return &Aggregator{
		claimed:  make(map[string]struct{}, n),
		resolved: make(map[string]struct{}, n),
		results:  make([]model.Result, 0, n),
	}
}

// Slot is the single write path for one outlet's result.
type Slot struct {
	agg      *Aggregator
	outletID string
	used     atomic.Bool
}

// OutletID returns the outlet the slot was claimed for.
func (s *Slot) OutletID() string {
	return s.outletID
}

// Commit records r as the outlet's terminal result. The result's OutletID is
// forced to the slot's outlet. Only the first call can succeed.
func (s *Slot) Commit(r model.Result) error {
	if !s.used.CompareAndSwap(false, true) {
		return ErrCommitted
	}
	r.OutletID = s.outletID
	return s.agg.commit(r)
}

// Claim reserves the write path for outletID.
func (a *Aggregator) Claim(outletID string) (*Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return nil, ErrSealed
	}
	if _, ok := a.claimed[outletID]; ok {
		return nil, ErrDuplicate
	}
	a.claimed[outletID] = struct{}{}
	return &Slot{agg: a, outletID: outletID}, nil
}

func (a *Aggregator) commit(r model.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return ErrSealed
	}
	a.resolved[r.OutletID] = struct{}{}
	a.results = append(a.results, r)
	return nil
}

// Len returns the number of committed results.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Resolved reports whether outletID has a committed result.
func (a *Aggregator) Resolved(outletID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.resolved[outletID]
	return ok
}

// Seal stops all further writes and returns the results in arrival order.
// Calling Seal again returns the same results.
func (a *Aggregator) Seal() []model.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	out := make([]model.Result, len(a.results))
	copy(out, a.results)
	return out
}
