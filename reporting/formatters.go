package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// StatusDisplay represents display information for a test status
type StatusDisplay struct {
	Text string // Human-readable status text
	Icon string // Single character marker for console lines
}

// GetStatusDisplay returns the human-readable status text and marker
func GetStatusDisplay(status types.TestStatus) StatusDisplay {
	switch status {
	case types.TestStatusPassed:
		return StatusDisplay{Text: "PASS", Icon: "✓"}
	case types.TestStatusFailed:
		return StatusDisplay{Text: "FAIL", Icon: "✗"}
	case types.TestStatusTimedOut:
		return StatusDisplay{Text: "TIMEOUT", Icon: "⏱"}
	default:
		return StatusDisplay{Text: "UNKNOWN", Icon: "?"}
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// TextSummaryFormatter formats reports as plain text summaries
type TextSummaryFormatter struct {
	includeDetails bool
}

// NewTextSummaryFormatter creates a new text summary formatter
func NewTextSummaryFormatter(includeDetails bool) *TextSummaryFormatter {
	return &TextSummaryFormatter{
		includeDetails: includeDetails,
	}
}

// Format formats the report as a text summary
func (tsf *TextSummaryFormatter) Format(report *RunReport) string {
	var summary strings.Builder

	fmt.Fprintf(&summary, "TEST SUMMARY\n")
	fmt.Fprintf(&summary, "============\n")
	fmt.Fprintf(&summary, "Run ID: %s\n", report.RunID)
	fmt.Fprintf(&summary, "Time: %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&summary, "Duration: %s\n\n", FormatDuration(report.Duration()))

	if report.TimedOutCount > 0 {
		fmt.Fprintf(&summary, "WARNING: %d FILE(S) TIMED OUT\n\n", report.TimedOutCount)
	}

	fmt.Fprintf(&summary, "Results:\n")
	fmt.Fprintf(&summary, "  Total:     %d\n", report.Total())
	fmt.Fprintf(&summary, "  Passed:    %d\n", report.PassedCount)
	fmt.Fprintf(&summary, "  Failed:    %d\n", report.FailedCount)
	fmt.Fprintf(&summary, "  Timed out: %d\n", report.TimedOutCount)
	fmt.Fprintf(&summary, "\n")

	if failures := report.Failures(); len(failures) > 0 {
		fmt.Fprintf(&summary, "Failed files:\n")
		for _, f := range failures {
			fmt.Fprintf(&summary, "  %s %s: %s\n", GetStatusDisplay(f.Status).Icon, f.Path, KeyErrorMessage(f.Message))
		}
		fmt.Fprintf(&summary, "\n")
	}

	if tsf.includeDetails && report.Total() > 0 {
		fmt.Fprintf(&summary, "DETAILED RESULTS:\n")
		fmt.Fprintf(&summary, "=================\n")
		for _, res := range report.Results {
			fmt.Fprintf(&summary, "  - %s (%s) [%s]\n", res.File.Path, FormatDuration(res.Duration), GetStatusDisplay(res.Status).Text)
		}
		fmt.Fprintf(&summary, "\n")
	}

	fmt.Fprintf(&summary, "%s\n", report.Summary())
	return summary.String()
}
