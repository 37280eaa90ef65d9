package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/restoration"
)

const (
	exitFailure = 1
	exitConfig  = foundry.ExitInvalidArgument
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// serviceError maps a service error to an exit error.
func serviceError(message string, err error) error {
	var corrupt *restoration.StateCorruptionError
	switch {
	case errors.Is(err, restoration.ErrInvalidRequest),
		errors.Is(err, restoration.ErrSnapshotNotFound),
		errors.Is(err, restoration.ErrNoRestorationInProcess),
		errors.Is(err, restoration.ErrSnapshotInProcess),
		errors.Is(err, restoration.ErrTransferIncomplete),
		errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, orchestrator.ErrAlreadyRunning):
		return exitError(foundry.ExitInvalidArgument, message, err)
	case builder.IsConstructionError(err):
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	case errors.As(err, &corrupt), errors.Is(err, restoration.ErrOrphanedWorkDir):
		return exitError(foundry.ExitFileWriteError, message, err)
	default:
		return exitError(exitFailure, message, err)
	}
}

// statusError fails a command whose job ended in a non-COMPLETED status.
func statusError(id job.Identity, status job.Status) error {
	if status == job.StatusCompleted {
		return nil
	}
	return exitError(exitFailure, fmt.Sprintf("Job %s did not complete", id), fmt.Errorf("status %s", status))
}
