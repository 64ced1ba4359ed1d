package store

import (
	"context"
	"errors"

	"github.com/seantiz/outletwatch/internal/model"
)

var (
	// ErrNotFound is returned when a run is not found.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidTransition is returned when a run status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RunStats holds aggregate statistics over all runs.
type RunStats struct {
	TotalRuns       int            `json:"total_runs"`
	RunsByStatus    map[string]int `json:"runs_by_status"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
	TotalResults    int            `json:"total_results"`
	ResultsByStatus map[string]int `json:"results_by_status"`
	FailedResults   int            `json:"failed_results"`
}

// Store defines the persistence operations for runs and their results.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	FailStaleRuns(ctx context.Context, reason string) (int, error)
	InsertResults(ctx context.Context, runID string, results []model.Result) error
	GetResults(ctx context.Context, runID string) ([]model.Result, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Ping(ctx context.Context) error
	Close() error
}
