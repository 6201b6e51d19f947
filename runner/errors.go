package runner

import (
	"errors"
	"fmt"
)

// ErrTestTimedOut marks results whose host process outlived the per-file timeout.
var ErrTestTimedOut = errors.New("test timed out")

// ExecutionError reports that the host application could not be launched for a file.
type ExecutionError struct {
	File string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to launch host for %s: %v", e.File, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError checks if the error is or wraps an ExecutionError
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return err != nil && errors.As(err, &execErr)
}
