package deps

import (
	"errors"
	"fmt"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

var (
	// ErrInvalidIdentity is returned for specs that are neither a local path nor a remote locator.
	ErrInvalidIdentity = errors.New("identity is neither a local path nor a remote repository")
	// ErrRefNotFound is returned when the remote does not advertise the tracked branch.
	ErrRefNotFound = errors.New("ref not found on remote")
	// ErrNoCachedCheckout is returned when remote checks are disabled and nothing is cached.
	ErrNoCachedCheckout = errors.New("no cached checkout and remote checks are disabled")
	// ErrGitUnavailable is returned when the git executable cannot be run.
	ErrGitUnavailable = errors.New("git is not available")
)

// DependencyError reports the failure to resolve one dependency.
type DependencyError struct {
	Spec types.DependencySpec
	Op   string
	Err  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %s: %v", e.Spec, e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// IsDependencyError checks if the error is or wraps a DependencyError
func IsDependencyError(err error) bool {
	var depErr *DependencyError
	return err != nil && errors.As(err, &depErr)
}

func newDependencyError(spec types.DependencySpec, op string, err error) *DependencyError {
	return &DependencyError{Spec: spec, Op: op, Err: err}
}
