package checker

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/outletwatch/internal/model"
)

// ErrTerminal marks failures that are not expected to heal on retry, such as
// a structurally required page element that can never be located.
var ErrTerminal = errors.New("terminal check failure")

// Checker is the interface every status checker implementation must satisfy.
type Checker interface {
	// Name identifies the checker in the registry.
	Name() string

	// Open acquires the resources one attempt needs (for example a browser
	// session). The caller must Close the returned session on every exit path.
	Open(ctx context.Context) (Session, error)
}

// Session is a single-attempt handle on a checker's resources.
type Session interface {
	// Check logs into the outlet's account and returns its status text.
	// The context carries the attempt deadline.
	Check(ctx context.Context, outlet model.Outlet) (string, error)

	// Close releases the session's resources. It must be safe to call once
	// after any Check outcome, including a panic.
	Close() error
}

// Terminal wraps err so that Classify treats it as a terminal failure.
func Terminal(err error) error {
	if err == nil {
		return ErrTerminal
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// Classify turns the return values of one attempt into an Outcome. Any error
// not wrapping ErrTerminal is recoverable, including deadline expiry of the
// attempt itself. An empty status on success is reported as "Unknown".
func Classify(status string, err error) model.Outcome {
	switch {
	case err == nil:
		if status == "" {
			status = model.LabelUnknown
		}
		return model.Outcome{Kind: model.OutcomeSuccess, Status: status}
	case errors.Is(err, ErrTerminal):
		return model.Outcome{Kind: model.OutcomeTerminal, Reason: err.Error()}
	default:
		return model.Outcome{Kind: model.OutcomeRecoverable, Reason: err.Error()}
	}
}
