package model

import "time"

// Run status constants.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Run trigger constants.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// validTransitions maps each run status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	RunPending: {
		RunRunning: true,
		RunFailed:  true,
	},
	RunRunning: {
		RunCompleted: true,
		RunPartial:   true,
		RunFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a run status is final.
func Terminal(status string) bool {
	return status == RunCompleted || status == RunPartial || status == RunFailed
}

// Run is one batch execution over the outlet list.
type Run struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Trigger      string         `json:"trigger"`
	TotalOutlets int            `json:"total_outlets"`
	TotalChecked int            `json:"total_checked"`
	Histogram    map[string]int `json:"histogram,omitempty"`
	Error        string         `json:"error,omitempty"`
	DurationMS   *int           `json:"duration_ms,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}
