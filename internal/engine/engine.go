package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/outletwatch/internal/checker"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/report"
	"github.com/seantiz/outletwatch/internal/scheduler"
	"github.com/seantiz/outletwatch/internal/source"
	"github.com/seantiz/outletwatch/internal/store"
)

// deliveryTimeout bounds report delivery after a batch ends.
const deliveryTimeout = 2 * time.Minute

var (
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrRunFailed is returned by RunOnce when the batch could not run at all.
	ErrRunFailed = errors.New("run failed")
)

// Engine orchestrates run execution. Only one run is active at a time.
type Engine struct {
	store    store.Store
	source   source.Source
	checker  checker.Checker
	pipeline *report.Pipeline
	cfg      scheduler.Config
	logger   *slog.Logger
	broker   *Broker

	wg       sync.WaitGroup
	mu       sync.Mutex
	activeID string

	baseCtx context.Context
	stop    context.CancelFunc
}

// NewEngine creates a new execution engine. pipeline may be nil to skip
// report delivery.
func NewEngine(s store.Store, src source.Source, c checker.Checker, pipeline *report.Pipeline, cfg scheduler.Config, logger *slog.Logger) *Engine {
	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		store:    s,
		source:   src,
		checker:  c,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		broker:   NewBroker(),
		baseCtx:  ctx,
		stop:     stop,
	}
}

// Broker returns the engine's event broker for streaming subscriptions.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Checker returns the name of the checker runs use.
func (e *Engine) Checker() string {
	return e.checker.Name()
}

// Active returns the ID of the run currently executing, if any.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID, e.activeID != ""
}

// Submit creates a pending run and executes it in a goroutine. The run is
// stored before Submit returns. The run outlives ctx; Shutdown cancels it.
func (e *Engine) Submit(ctx context.Context, trigger string) (*model.Run, error) {
	run, err := e.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}

	runCopy := *run
	e.wg.Go(func() {
		e.execute(e.baseCtx, &runCopy)
	})
	return run, nil
}

// RunOnce creates a run and executes it synchronously. Per-outlet failures
// and deadline cut-offs do not produce an error; ErrRunFailed is returned only
// when the batch could not run.
func (e *Engine) RunOnce(ctx context.Context, trigger string) (*model.Run, error) {
	run, err := e.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	final := e.execute(ctx, run)
	if final.Status == model.RunFailed {
		return final, fmt.Errorf("%w: %s", ErrRunFailed, final.Error)
	}
	return final, nil
}

// Wait blocks until all in-flight runs complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels any asynchronous run and waits for it to finish.
func (e *Engine) Shutdown() {
	e.stop()
	e.wg.Wait()
}

// begin claims the active slot and stores a pending run.
func (e *Engine) begin(ctx context.Context, trigger string) (*model.Run, error) {
	run := &model.Run{
		ID:        model.NewID(),
		Status:    model.RunPending,
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	if e.activeID != "" {
		e.mu.Unlock()
		return nil, ErrRunInProgress
	}
	e.activeID = run.ID
	e.mu.Unlock()

	if err := e.store.CreateRun(ctx, run); err != nil {
		e.release(run.ID)
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeID == id {
		e.activeID = ""
	}
}

// execute runs the lifecycle pending→running→completed/partial/failed and
// returns the final run record.
func (e *Engine) execute(ctx context.Context, run *model.Run) *model.Run {
	defer e.release(run.ID)
	defer e.broker.Close(run.ID)

	log := e.logger.With("run_id", run.ID)

	if err := e.store.UpdateRunStatus(ctx, run.ID, model.RunRunning); err != nil {
		log.Error("failed to transition to running", "error", err)
		return e.finishFailed(run, nil, fmt.Sprintf("failed to start: %v", err))
	}

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across success and failure paths.
	start := time.Now().UTC()
	e.broker.Publish(Event{Type: EventRunStarted, RunID: run.ID})

	outlets, err := e.source.Load(ctx)
	if err != nil {
		log.Error("failed to load outlets", "error", err)
		return e.finishFailed(run, &start, fmt.Sprintf("load outlets: %v", err))
	}
	run.TotalOutlets = len(outlets)
	log.Info("run started", "outlets", len(outlets), "checker", e.checker.Name(), "trigger", run.Trigger)

	sched := scheduler.New(e.checker, e.cfg, log).WithHooks(e.hooks(run.ID))
	batch, err := sched.Run(ctx, outlets)
	if err != nil {
		log.Error("batch rejected", "error", err)
		return e.finishFailed(run, &start, err.Error())
	}

	for i := range batch.Results {
		batch.Results[i].RunID = run.ID
	}
	// Persistence and delivery must not be cut short by a cancelled run.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.InsertResults(persistCtx, run.ID, batch.Results); err != nil {
		log.Error("failed to persist results", "error", err)
		run.Error = fmt.Sprintf("persist results: %v", err)
	}

	if e.pipeline != nil {
		rep := report.New(run.ID, batch.Results, batch.Total, batch.Unresolved, batch.Elapsed)
		deliverCtx, cancel := context.WithTimeout(persistCtx, deliveryTimeout)
		if err := e.pipeline.Deliver(deliverCtx, rep); err != nil && !errors.Is(err, report.ErrNoResults) {
			log.Error("report delivery incomplete", "error", err)
		}
		cancel()
	}

	now := time.Now().UTC()
	dur := int(now.Sub(start).Milliseconds())
	run.Status = model.RunCompleted
	if batch.Partial() {
		run.Status = model.RunPartial
	}
	run.TotalChecked = len(batch.Results)
	run.Histogram = batch.Histogram()
	run.DurationMS = &dur
	run.StartedAt = &start
	run.FinishedAt = &now

	if err := e.store.UpdateRun(persistCtx, run); err != nil {
		log.Error("failed to update finished run", "error", err)
	}

	log.Info("run finished",
		"status", run.Status,
		"checked", run.TotalChecked,
		"outlets", run.TotalOutlets,
		"histogram", run.Histogram,
		"runtime_seconds", fmt.Sprintf("%.2f", now.Sub(start).Seconds()),
	)
	e.broker.Publish(Event{Type: EventRunFinished, RunID: run.ID, Status: run.Status})
	return run
}

// hooks publishes scheduler progress as run events.
func (e *Engine) hooks(runID string) scheduler.Hooks {
	return scheduler.Hooks{
		TaskStarted: func(o model.Outlet) {
			e.broker.Publish(Event{Type: EventTaskStarted, RunID: runID, OutletID: o.ID})
		},
		Attempt: func(a model.Attempt) {
			e.broker.Publish(Event{
				Type:     EventAttempt,
				RunID:    runID,
				OutletID: a.OutletID,
				Attempt:  a.Number,
				Outcome:  a.Outcome.Kind.String(),
				Status:   a.Outcome.Status,
				Reason:   a.Outcome.Reason,
			})
		},
		TaskResolved: func(r model.Result) {
			e.broker.Publish(Event{
				Type:     EventTaskResolved,
				RunID:    runID,
				OutletID: r.OutletID,
				Attempt:  r.Attempts,
				Status:   r.Status,
			})
		},
		TaskAbandoned: func(outletID string, waited time.Duration) {
			e.broker.Publish(Event{
				Type:     EventTaskAbandoned,
				RunID:    runID,
				OutletID: outletID,
				Reason:   fmt.Sprintf("no result after %s", waited.Round(time.Millisecond)),
			})
		},
	}
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(run *model.Run, startedAt *time.Time, errMsg string) *model.Run {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	run.Status = model.RunFailed
	run.Error = errMsg
	run.DurationMS = &durationMS
	run.StartedAt = startedAt
	run.FinishedAt = &now

	if err := e.store.UpdateRun(context.WithoutCancel(e.baseCtx), run); err != nil {
		e.logger.Error("failed to update failed run", "run_id", run.ID, "error", err)
	}
	e.broker.Publish(Event{Type: EventRunFinished, RunID: run.ID, Status: run.Status, Reason: errMsg})
	return run
}
