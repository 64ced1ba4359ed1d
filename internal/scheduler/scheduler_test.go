package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/seantiz/outletwatch/internal/aggregate"
	"github.com/seantiz/outletwatch/internal/checker/scripted"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outlets(n int) []model.Outlet {
	out := make([]model.Outlet, n)
	for i := range out {
		out[i] = model.Outlet{
			ID:       fmt.Sprintf("outlet-%d", i+1),
			Username: fmt.Sprintf("user%d@example.com", i+1),
			Password: "secret",
		}
	}
	return out
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, Delay: 10 * time.Millisecond, AttemptTimeout: 5 * time.Second}
}

func byID(results []model.Result) map[string]model.Result {
	m := make(map[string]model.Result, len(results))
	for _, r := range results {
		m[r.OutletID] = r
	}
	return m
}

func TestZeroOutletsReturnsImmediately(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 0))
	s := New(c, Config{}, discardLogger())

	batch, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, batch.Results)
	assert.False(t, batch.Partial())
	assert.Equal(t, 0, c.TotalAttempts())
}

func TestAllSucceedInParallel(t *testing.T) {
	const latency = 150 * time.Millisecond
	c := scripted.New(scripted.Succeed("Online", latency))
	s := New(c, Config{Concurrency: 5, Retry: fastRetry()}, discardLogger())

	batch, err := s.Run(context.Background(), outlets(5))
	require.NoError(t, err)

	require.Len(t, batch.Results, 5)
	for _, r := range batch.Results {
		assert.Equal(t, "Online", r.Status)
		assert.False(t, r.Failed)
		assert.NotEmpty(t, r.Username)
	}
	assert.False(t, batch.Partial())
	assert.Less(t, batch.Elapsed, 3*latency, "five parallel checks should take about one latency")
	assert.Equal(t, 5, c.MaxConcurrent())
}

func TestRecoverableFailuresRetriedWithinTask(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 10*time.Millisecond)).
		Script("outlet-2",
			scripted.Fail(5*time.Millisecond),
			scripted.Fail(5*time.Millisecond),
			scripted.Succeed("Busy", 5*time.Millisecond),
		)
	s := New(c, Config{Concurrency: 2, Retry: fastRetry()}, discardLogger())

	batch, err := s.Run(context.Background(), outlets(3))
	require.NoError(t, err)

	require.Len(t, batch.Results, 3)
	got := byID(batch.Results)
	assert.Equal(t, "Busy", got["outlet-2"].Status)
	assert.Equal(t, 3, got["outlet-2"].Attempts)
	assert.Equal(t, 3, c.Attempts("outlet-2"))
	assert.Equal(t, 1, c.Attempts("outlet-1"))
	assert.LessOrEqual(t, c.MaxConcurrent(), 2)
}

func TestBudgetSmallerThanSequentialTime(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 100*time.Millisecond))
	s := New(c, Config{
		Concurrency:  1,
		MaxRuntime:   250 * time.Millisecond,
		SafetyMargin: NoSafetyMargin,
		Retry:        fastRetry(),
	}, discardLogger())

	batch, err := s.Run(context.Background(), outlets(5))
	require.NoError(t, err)

	assert.Less(t, len(batch.Results), 5)
	assert.True(t, batch.Partial())
	assert.Len(t, batch.Unresolved, 5-len(batch.Results))
	assert.Less(t, batch.Elapsed, time.Second, "batch must end near its deadline")
}

func TestSlowAttemptsDeadlineRespected(t *testing.T) {
	const budget = 300 * time.Millisecond
	c := scripted.New(scripted.Succeed("Online", time.Minute))
	s := New(c, Config{
		Concurrency:  3,
		MaxRuntime:   budget,
		SafetyMargin: NoSafetyMargin,
		Retry:        retry.Config{MaxAttempts: 3, AttemptTimeout: time.Minute},
	}, discardLogger())

	start := time.Now()
	batch, err := s.Run(context.Background(), outlets(6))
	require.NoError(t, err)

	for _, r := range batch.Results {
		assert.True(t, r.Failed, "no attempt can succeed within the budget")
	}
	assert.Less(t, time.Since(start), budget+DefaultDrainTimeout)
	opened, closed := c.Sessions()
	assert.Equal(t, opened, closed, "cancelled attempts must release their sessions")
}

func TestTerminalFailureIsolated(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 0)).
		Script("outlet-1", scripted.FailTerminal(0)).
		Script("outlet-3", scripted.Fail(0))
	s := New(c, Config{Concurrency: 2, Retry: fastRetry()}, discardLogger())

	batch, err := s.Run(context.Background(), outlets(4))
	require.NoError(t, err)
	require.Len(t, batch.Results, 4)

	got := byID(batch.Results)
	assert.Equal(t, model.LabelSelectFailed, got["outlet-1"].Status)
	assert.Equal(t, 1, c.Attempts("outlet-1"))
	assert.Equal(t, model.LabelCheckFailed, got["outlet-3"].Status)
	assert.Equal(t, 3, c.Attempts("outlet-3"))
	assert.Equal(t, "Online", got["outlet-2"].Status)

	h := batch.Histogram()
	assert.Equal(t, 2, h["Online"])
	assert.Equal(t, 1, h[model.LabelSelectFailed])
	assert.Equal(t, 1, h[model.LabelCheckFailed])
}

func TestDuplicateOutletRejectedBeforeDispatch(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 0))
	s := New(c, Config{}, discardLogger())

	in := append(outlets(2), model.Outlet{ID: "outlet-1"})
	_, err := s.Run(context.Background(), in)
	require.ErrorIs(t, err, aggregate.ErrDuplicate)
	assert.Equal(t, 0, c.TotalAttempts())
}

func TestParentCancelEndsBatch(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", time.Minute))
	s := New(c, Config{Concurrency: 2, Retry: fastRetry()}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	batch, err := s.Run(ctx, outlets(3))
	require.NoError(t, err)
	assert.True(t, batch.Partial())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHooks(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 0)).
		Script("outlet-2", scripted.Fail(0), scripted.Succeed("Online", 0))

	var mu sync.Mutex
	started, attempts, resolved := 0, 0, 0
	s := New(c, Config{Concurrency: 2, Retry: fastRetry()}, discardLogger()).WithHooks(Hooks{
		TaskStarted: func(model.Outlet) {
			mu.Lock()
			defer mu.Unlock()
			started++
		},
		Attempt: func(model.Attempt) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
		},
		TaskResolved: func(model.Result) {
			mu.Lock()
			defer mu.Unlock()
			resolved++
		},
	})

	_, err := s.Run(context.Background(), outlets(3))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, started)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 3, resolved)
}

func TestAbandonHook(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", time.Minute))
	var mu sync.Mutex
	var abandoned []string
	s := New(c, Config{
		Concurrency:  2,
		MaxRuntime:   200 * time.Millisecond,
		SafetyMargin: NoSafetyMargin,
		Retry:        retry.Config{MaxAttempts: 1, AttemptTimeout: time.Minute},
	}, discardLogger()).WithHooks(Hooks{
		TaskAbandoned: func(id string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			abandoned = append(abandoned, id)
		},
	})

	_, err := s.Run(context.Background(), outlets(2))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, abandoned)
	assert.Equal(t, "outlet-1", abandoned[0])
}

func TestSlowCheckStillCollectedAfterItsWait(t *testing.T) {
	c := scripted.New(scripted.Succeed("Online", 0)).
		Script("outlet-1", scripted.Succeed("Online", 1200*time.Millisecond))
	var mu sync.Mutex
	var slow []string
	s := New(c, Config{
		Concurrency:  2,
		MaxRuntime:   4 * time.Second,
		SafetyMargin: NoSafetyMargin,
		Retry:        retry.Config{MaxAttempts: 1, AttemptTimeout: time.Minute},
	}, discardLogger()).WithHooks(Hooks{
		TaskAbandoned: func(id string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			slow = append(slow, id)
		},
	})

	batch, err := s.Run(context.Background(), outlets(4))
	require.NoError(t, err)

	require.Len(t, batch.Results, 4, "a check that outlives its wait must still be collected")
	assert.Equal(t, "Online", byID(batch.Results)["outlet-1"].Status)
	assert.Empty(t, batch.Unresolved)
	assert.False(t, batch.Partial())
	assert.Less(t, batch.Elapsed, 3*time.Second, "batch ends once the slow check commits")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"outlet-1"}, slow)
}

func TestSafetyMarginDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero selects default", 0, 0.1},
		{"negative disables", NoSafetyMargin, 0},
		{"explicit kept", 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Config{SafetyMargin: tt.in}.withDefaults().SafetyMargin)
		})
	}
}

func TestNoDuplicateOrLostResults(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 25).Draw(t, "n")
		k := rapid.IntRange(1, max(n, 1)).Draw(t, "k")

		c := scripted.New(scripted.Succeed("Online", 0))
		in := outlets(n)
		for _, o := range in {
			switch rapid.IntRange(0, 3).Draw(t, "kind-"+o.ID) {
			case 1:
				c.Script(o.ID, scripted.Fail(0))
			case 2:
				c.Script(o.ID, scripted.FailTerminal(0))
			case 3:
				c.Script(o.ID, scripted.Fail(0), scripted.Succeed("Paused", time.Millisecond))
			}
		}

		s := New(c, Config{
			Concurrency: k,
			Retry:       retry.Config{MaxAttempts: 3, AttemptTimeout: time.Second},
		}, discardLogger())

		batch, err := s.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(batch.Results) != n {
			t.Fatalf("results = %d, want %d", len(batch.Results), n)
		}
		seen := make(map[string]bool, n)
		for _, r := range batch.Results {
			if seen[r.OutletID] {
				t.Fatalf("duplicate result for %s", r.OutletID)
			}
			seen[r.OutletID] = true
		}
		for _, o := range in {
			if !seen[o.ID] {
				t.Fatalf("missing result for %s", o.ID)
			}
			if a := c.Attempts(o.ID); a < 1 || a > 3 {
				t.Fatalf("%s attempted %d times", o.ID, a)
			}
		}
		if c.MaxConcurrent() > k {
			t.Fatalf("max concurrent = %d, want <= %d", c.MaxConcurrent(), k)
		}
	})
}

func TestResultLabel(t *testing.T) {
	tests := map[string]string{
		model.LabelUnknown:      "unknown",
		model.LabelSelectFailed: "select_failed",
		model.LabelCheckFailed:  "check_failed",
		"Online":                "status",
	}
	for status, want := range tests {
		assert.Equal(t, want, resultLabel(status), status)
	}
}
