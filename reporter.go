package testrunner

import (
	"github.com/nvim-test-runner/nvim-test-runner/metrics"
	"github.com/nvim-test-runner/nvim-test-runner/reporting"
)

// MetricsReporter is responsible for reporting metrics from test results.
type MetricsReporter interface {
	ReportResults(report *reporting.RunReport)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the run outcome to metrics systems.
func (r *DefaultMetricsReporter) ReportResults(report *reporting.RunReport) {
	metrics.RecordRun(
		report.RunID,
		report.PassedCount,
		report.FailedCount,
		report.TimedOutCount,
		report.Duration(),
	)
}
