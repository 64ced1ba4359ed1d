// Package retry runs one outlet check with a bounded number of attempts, a
// fixed delay between attempts and the batch deadline as an overall cap.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/outletwatch/internal/budget"
	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/model"
)

// Defaults used when a Config field is zero.
const (
	DefaultMaxAttempts    = 3
	DefaultDelay          = 5 * time.Second
	DefaultAttemptTimeout = 20 * time.Second
)

// Config holds the retry limits.
type Config struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Policy wraps a checker with retry and deadline handling.
type Policy struct {
	checker checker.Checker
	cfg     Config
	budget  *budget.Allocator
	logger  *slog.Logger

	// OnAttempt, when set, is called after every attempt from the goroutine
	// running that attempt.
	OnAttempt func(model.Attempt)
}

// New creates a retry policy. b may be nil, in which case only the attempt
// limit and the context bound the run.
func New(c checker.Checker, cfg Config, b *budget.Allocator, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		checker: c,
		cfg:     cfg.withDefaults(),
		budget:  b,
		logger:  logger,
	}
}

// Run checks outlet until it succeeds, fails terminally, exhausts its
// attempts or runs out of time. It always returns a Result; per-outlet
// failures are expressed as failure labels, never as errors.
func (p *Policy) Run(ctx context.Context, outlet model.Outlet) model.Result {
	n := 0
	for {
		n++
		outcome := p.attempt(ctx, outlet, n)

		switch outcome.Kind {
		case model.OutcomeSuccess:
			return newResult(outlet, outcome.Status, n)
		case model.OutcomeTerminal:
			p.logger.Warn("outlet selection failed", "outlet_id", outlet.ID, "attempt", n, "reason", outcome.Reason)
			return newResult(outlet, model.LabelSelectFailed, n)
		}

		if n >= p.cfg.MaxAttempts {
			p.logger.Warn("attempts exhausted", "outlet_id", outlet.ID, "attempts", n, "reason", outcome.Reason)
			return newResult(outlet, model.LabelCheckFailed, n)
		}
		if p.expired() || ctx.Err() != nil {
			p.logger.Warn("no time left to retry", "outlet_id", outlet.ID, "attempts", n)
			return newResult(outlet, model.LabelCheckFailed, n)
		}

		p.logger.Info("retrying outlet", "outlet_id", outlet.ID, "attempt", n, "reason", outcome.Reason)
		if !p.sleep(ctx) || p.expired() {
			return newResult(outlet, model.LabelCheckFailed, n)
		}
	}
}

// attempt runs one session-scoped check. The session is closed on every exit
// path and a panic inside the checker is reported as a recoverable failure.
func (p *Policy) attempt(ctx context.Context, outlet model.Outlet, n int) (outcome model.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = checker.Classify("", fmt.Errorf("checker panic: %v", r))
		}
		if p.OnAttempt != nil {
			p.OnAttempt(model.Attempt{
				OutletID: outlet.ID,
				Number:   n,
				Outcome:  outcome,
				Duration: time.Since(start),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout())
	defer cancel()

	sess, err := p.checker.Open(ctx)
	if err != nil {
		return checker.Classify("", fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("close session", "outlet_id", outlet.ID, "attempt", n, "error", err)
		}
	}()

	status, err := sess.Check(ctx, outlet)
	return checker.Classify(status, err)
}

// attemptTimeout is the intrinsic attempt timeout capped by the time left in
// the batch.
func (p *Policy) attemptTimeout() time.Duration {
	d := p.cfg.AttemptTimeout
	if p.budget != nil {
		if rem := p.budget.Remaining(); rem > 0 {
			d = min(d, rem)
		}
	}
	return d
}

// sleep waits for the retry delay, bounded by the current per-task budget.
// It returns false if ctx ended first.
func (p *Policy) sleep(ctx context.Context) bool {
	d := p.cfg.Delay
	if p.budget != nil {
		d = p.budget.Bound(d)
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Policy) expired() bool {
	return p.budget != nil && p.budget.Expired()
}

func newResult(outlet model.Outlet, status string, attempts int) model.Result {
	return model.Result{
		OutletID:  outlet.ID,
		Status:    status,
		Username:  outlet.Username,
		Attempts:  attempts,
		Failed:    model.IsFailureLabel(status),
		CheckedAt: time.Now().UTC(),
	}
}
