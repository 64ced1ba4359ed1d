package model

import "time"

// Failure labels produced by the orchestrator itself. They are distinguishable
// from any status string reported by a checker.
const (
	LabelUnknown      = "Unknown"
	LabelSelectFailed = "Could not select outlet"
	LabelCheckFailed  = "status check failed"
)

// OutcomeKind classifies a single attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeRecoverable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Status string      `json:"status,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Attempt is one execution of the checker for an outlet. Attempts are not
// persisted; they only feed progress events and metrics.
type Attempt struct {
	OutletID string        `json:"outlet_id"`
	Number   int           `json:"number"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// Result is the terminal outcome recorded for one outlet in a run.
type Result struct {
	RunID     string    `json:"run_id,omitempty"`
	OutletID  string    `json:"outlet_id"`
	Status    string    `json:"status"`
	Username  string    `json:"username"`
	Attempts  int       `json:"attempts"`
	Failed    bool      `json:"failed"`
	CheckedAt time.Time `json:"checked_at"`
}

// IsFailureLabel reports whether status is one of the orchestrator's own labels.
func IsFailureLabel(status string) bool {
	switch status {
	case LabelUnknown, LabelSelectFailed, LabelCheckFailed:
		return true
	}
	return false
}
