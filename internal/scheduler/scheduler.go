// Package scheduler runs a batch of outlet checks on a bounded worker pool
// under one shared deadline and collects exactly one result per resolved
// outlet.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/outletwatch/internal/aggregate"
	"github.com/seantiz/outletwatch/internal/budget"
	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/retry"
)

// Defaults used when a Config field is zero.
const (
	DefaultConcurrency  = 5
	DefaultMaxRuntime   = 1500 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// NoSafetyMargin disables the safety margin. A zero SafetyMargin means the
// default.
const NoSafetyMargin = -1.0

// Config holds the batch limits.
type Config struct {
	Concurrency int
	MaxRuntime  time.Duration
	// SafetyMargin is the fraction of MaxRuntime held back from the deadline.
	// Zero selects budget.DefaultSafetyMargin; use NoSafetyMargin for none.
	SafetyMargin float64
	Retry        retry.Config

	// DrainTimeout bounds how long Run waits for in-flight workers to observe
	// cancellation once the batch has ended.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRuntime <= 0 {
		c.MaxRuntime = DefaultMaxRuntime
	}
	switch {
	case c.SafetyMargin == 0:
		c.SafetyMargin = budget.DefaultSafetyMargin
	case c.SafetyMargin < 0:
		c.SafetyMargin = 0
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Hooks receive progress notifications. Any of them may be nil. They are
// called from worker goroutines and must not block. TaskAbandoned fires when
// the wait on a task runs out; a result it commits before the deadline is
// still collected.
type Hooks struct {
	TaskStarted   func(outlet model.Outlet)
	Attempt       func(a model.Attempt)
	TaskResolved  func(r model.Result)
	TaskAbandoned func(outletID string, waited time.Duration)
}

// Batch is the outcome of one scheduler run.
type Batch struct {
	Results    []model.Result
	Total      int
	Unresolved []string
	StartedAt  time.Time
	Deadline   time.Time
	Elapsed    time.Duration
}

// Partial reports whether some outlets ended without a result.
func (b *Batch) Partial() bool {
	return len(b.Results) < b.Total
}

// Histogram counts results per status label.
func (b *Batch) Histogram() map[string]int {
	h := make(map[string]int)
	for _, r := range b.Results {
		h[r.Status]++
	}
	return h
}

// Scheduler dispatches outlet checks to a bounded pool of workers.
type Scheduler struct {
	checker checker.Checker
	cfg     Config
	logger  *slog.Logger
	hooks   Hooks
}

// New creates a scheduler using c for every attempt.
func New(c checker.Checker, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		checker: c,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// WithHooks returns a copy of the scheduler that reports progress to h.
func (s *Scheduler) WithHooks(h Hooks) *Scheduler {
	cp := *s
	cp.hooks = h
	return &cp
}

// task.done closes once the result is committed. Only then does the task
// leave the outstanding count.
type task struct {
	outlet model.Outlet
	slot   *aggregate.Slot
	done   chan struct{}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Run checks every outlet and returns the collected results. Reaching the
// deadline is not an error: the batch ends with whatever results were
// committed. An error is returned only for invalid input, before any
// dispatch.
func (s *Scheduler) Run(ctx context.Context, outlets []model.Outlet) (*Batch, error) {
	start := time.Now()
	batch := &Batch{Total: len(outlets), StartedAt: start}
	if len(outlets) == 0 {
		batch.Deadline = start
		return batch, nil
	}

	agg := aggregate.New(len(outlets))
	tasks := make([]*task, len(outlets))
	for i, o := range outlets {
		slot, err := agg.Claim(o.ID)
		if err != nil {
			if errors.Is(err, aggregate.ErrDuplicate) {
				return nil, fmt.Errorf("outlet %q listed twice: %w", o.ID, err)
			}
			return nil, fmt.Errorf("claim outlet %q: %w", o.ID, err)
		}
		tasks[i] = &task{outlet: o, slot: slot, done: make(chan struct{})}
	}

	alloc := budget.New(s.cfg.MaxRuntime, s.cfg.SafetyMargin)
	alloc.SetOutstanding(len(tasks))
	batch.Deadline = alloc.Deadline()

	policy := retry.New(s.checker, s.cfg.Retry, alloc, s.logger)
	policy.OnAttempt = func(a model.Attempt) {
		attemptsTotal.WithLabelValues(a.Outcome.Kind.String()).Inc()
		if s.hooks.Attempt != nil {
			s.hooks.Attempt(a)
		}
	}

	workers := min(s.cfg.Concurrency, len(tasks))
	s.logger.Info("batch started",
		"outlets", len(tasks),
		"workers", workers,
		"deadline", batch.Deadline,
	)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan *task)
	go func() {
		defer close(queue)
		for _, t := range tasks {
			select {
			case queue <- t:
			case <-batchCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for t := range queue {
				s.work(batchCtx, policy, alloc, t)
			}
		})
	}

	s.await(ctx, alloc, agg, tasks)
	s.awaitStragglers(ctx, alloc, agg, tasks)

	batch.Results = agg.Seal()
	cancel()
	s.drain(&wg)

	for _, t := range tasks {
		if !agg.Resolved(t.outlet.ID) {
			batch.Unresolved = append(batch.Unresolved, t.outlet.ID)
		}
	}
	batch.Elapsed = time.Since(start)
	batchDuration.Observe(batch.Elapsed.Seconds())

	s.logger.Info("batch finished",
		"outlets", batch.Total,
		"resolved", len(batch.Results),
		"unresolved", len(batch.Unresolved),
		"elapsed", batch.Elapsed.Round(time.Millisecond).String(),
	)
	return batch, nil
}

// work runs one task on the calling worker.
func (s *Scheduler) work(ctx context.Context, policy *retry.Policy, alloc *budget.Allocator, t *task) {
	if ctx.Err() != nil || alloc.Expired() {
		return
	}
	if s.hooks.TaskStarted != nil {
		s.hooks.TaskStarted(t.outlet)
	}
	tasksInFlight.Inc()
	res := policy.Run(ctx, t.outlet)
	tasksInFlight.Dec()

	if err := t.slot.Commit(res); err != nil {
		s.logger.Debug("late result dropped", "outlet_id", t.slot.OutletID(), "error", err)
		return
	}
	alloc.Resolve()
	close(t.done)

	tasksTotal.WithLabelValues(resultLabel(res.Status)).Inc()
	s.logger.Info("outlet checked",
		"outlet_id", t.slot.OutletID(),
		"status", res.Status,
		"attempts", res.Attempts,
	)
	if s.hooks.TaskResolved != nil {
		s.hooks.TaskResolved(res)
	}
}

// await waits on each task in turn, each wait bounded by the per-task budget
// computed when it begins. A task whose wait times out is reported and left
// running; it stays outstanding until it commits.
func (s *Scheduler) await(ctx context.Context, alloc *budget.Allocator, agg *aggregate.Aggregator, tasks []*task) {
	for i, t := range tasks {
		if alloc.Expired() {
			s.logger.Warn("deadline reached, ending batch",
				"waited_on", i,
				"resolved", agg.Len(),
				"outlets", len(tasks),
			)
			return
		}
		wait := alloc.PerTask()
		timer := time.NewTimer(wait)
		select {
		case <-t.done:
		case <-timer.C:
			taskWaitTimeouts.Inc()
			s.logger.Warn("outlet check slow, moving on",
				"outlet_id", t.slot.OutletID(),
				"waited", wait.Round(time.Millisecond).String(),
			)
			if s.hooks.TaskAbandoned != nil {
				s.hooks.TaskAbandoned(t.slot.OutletID(), wait)
			}
		case <-ctx.Done():
			timer.Stop()
			s.logger.Warn("batch cancelled", "error", ctx.Err())
			return
		}
		timer.Stop()
	}
}

// awaitStragglers keeps waiting for tasks that outlived their per-task wait.
// It returns once every task has committed, the deadline passes, or ctx
// ends.
func (s *Scheduler) awaitStragglers(ctx context.Context, alloc *budget.Allocator, agg *aggregate.Aggregator, tasks []*task) {
	remaining := alloc.Remaining()
	if remaining <= 0 {
		return
	}
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for _, t := range tasks {
		if t.finished() {
			continue
		}
		select {
		case <-t.done:
		case <-deadline.C:
			s.logger.Warn("deadline reached with checks still running",
				"resolved", agg.Len(),
				"outlets", len(tasks),
			)
			return
		case <-ctx.Done():
			s.logger.Warn("batch cancelled", "error", ctx.Err())
			return
		}
	}
}

// drain gives cancelled workers a short window to return.
func (s *Scheduler) drain(wg *sync.WaitGroup) {
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn("workers still running after batch end", "drain_timeout", s.cfg.DrainTimeout.String())
	}
}
