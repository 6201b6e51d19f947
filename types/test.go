package types

import (
	"path/filepath"
	"time"
)

// TestStatus represents the possible outcomes of a test file execution
type TestStatus string

const (
	TestStatusPassed   TestStatus = "passed"
	TestStatusFailed   TestStatus = "failed"
	TestStatusTimedOut TestStatus = "timed_out"
)

// AllStatuses lists every status in reporting order
var AllStatuses = []TestStatus{TestStatusPassed, TestStatusFailed, TestStatusTimedOut}

// TestFile is a discovered test file, relative to the project root
type TestFile struct {
	Path string
}

// Abs returns the absolute path of the test file under root
func (f TestFile) Abs(root string) string {
	if filepath.IsAbs(f.Path) {
		return f.Path
	}
	return filepath.Join(root, filepath.FromSlash(f.Path))
}

func (f TestFile) String() string {
	return f.Path
}

// TestResult captures the outcome of a single test file run. It is never mutated once
// the engine hands it out.
type TestResult struct {
	File     TestFile
	Status   TestStatus
	Error    error         // Set for failed and timed out files
	Duration time.Duration // Wall clock time of the subprocess
	ExitCode int           // -1 when the process did not exit on its own
	Stdout   string        // Captured standard output, ANSI stripped
	Stderr   string        // Captured standard error, ANSI stripped
	Command  string        // Command line used to launch the host application
}

// Message returns the failure message, or the empty string for passing results
func (r *TestResult) Message() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

// DurationMs returns the duration in milliseconds
func (r *TestResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Passed reports whether the file passed
func (r *TestResult) Passed() bool {
	return r != nil && r.Status == TestStatusPassed
}
