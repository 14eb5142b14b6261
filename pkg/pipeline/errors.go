package pipeline

import (
	"errors"
	"fmt"

	"github.com/zen-systems/bootstrapper/pkg/command"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is in progress.
	ErrAlreadyRunning = errors.New("bootstrap pipeline already running")
	// ErrCancelled is returned when the operator declines the privilege warning.
	ErrCancelled = errors.New("bootstrap cancelled by operator")
)

// StageError is the terminal failure of a run.
type StageError struct {
	StageID string
	Ordinal int
	Reason  string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return "stage failed"
	}
	return fmt.Sprintf("stage %s failed: %s", e.StageID, e.Reason)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PreconditionError reports a non-skippable stage whose precondition was not met.
type PreconditionError struct {
	StageID string
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return "precondition not met"
	}
	return fmt.Sprintf("precondition for %s not met", e.StageID)
}

// PrivilegeWarning is the advisory raised before a run when the process is
// not elevated. It is never fatal on its own; the operator decides whether
// to continue.
type PrivilegeWarning struct {
	Message string
}

func (w *PrivilegeWarning) Error() string {
	if w == nil {
		return "privilege warning"
	}
	return w.Message
}

func exitCodeOf(err error) *int {
	var execErr *command.ExecutionError
	if !errors.As(err, &execErr) {
		return nil
	}
	code := execErr.ExitCode()
	return &code
}
