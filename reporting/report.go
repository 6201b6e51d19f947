package reporting

import (
	"fmt"
	"sort"
	"time"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// Failure is the detail kept for a file that did not pass
type Failure struct {
	Path    string
	Status  types.TestStatus
	Message string
}

// RunReport is the terminal artifact of one invocation. It is not modified after Aggregate returns.
type RunReport struct {
	RunID         string
	Results       []*types.TestResult // Sorted by file path
	PassedCount   int
	FailedCount   int
	TimedOutCount int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Aggregate builds the report for a run. Results may arrive in any order; the report
// orders them by file path so the output is stable. Nil results are ignored.
func Aggregate(runID string, results []*types.TestResult, startedAt, finishedAt time.Time) *RunReport {
	report := &RunReport{
		RunID:      runID,
		Results:    make([]*types.TestResult, 0, len(results)),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		report.Results = append(report.Results, r)
		switch r.Status {
		case types.TestStatusPassed:
			report.PassedCount++
		case types.TestStatusTimedOut:
			report.TimedOutCount++
		default:
			// Anything that is neither passed nor timed out counts against the run.
			report.FailedCount++
		}
	}

	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].File.Path < report.Results[j].File.Path
	})
	return report
}

// Total returns the number of files in the report
func (r *RunReport) Total() int {
	return len(r.Results)
}

// Duration is the wall clock time of the whole run, not the sum of per-file durations.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Success reports whether every file passed
func (r *RunReport) Success() bool {
	return r.FailedCount+r.TimedOutCount == 0
}

// PassRate returns the percentage of passing files
func (r *RunReport) PassRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.PassedCount) * 100 / float64(r.Total())
}

// Failures returns the failed and timed out files in path order
func (r *RunReport) Failures() []Failure {
	var failures []Failure
	for _, res := range r.Results {
		if res.Passed() {
			continue
		}
		failures = append(failures, Failure{
			Path:    res.File.Path,
			Status:  res.Status,
			Message: res.Message(),
		})
	}
	return failures
}

// Summary returns the one-line counts summary
func (r *RunReport) Summary() string {
	return fmt.Sprintf("%d passed, %d failed, %d timed out (%d files in %s)",
		r.PassedCount, r.FailedCount, r.TimedOutCount, r.Total(), FormatDuration(r.Duration()))
}

func (r *RunReport) String() string {
	return NewTextSummaryFormatter(true).Format(r)
}
