package testrunner

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nvim-test-runner/nvim-test-runner/reporting"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(report *reporting.RunReport) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults renders the results table followed by the summary line.
func (f *ConsoleResultFormatter) FormatResults(report *reporting.RunReport) error {
	f.logger.Debug("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(report.Duration())))

	t.AppendHeader(table.Row{
		"File", "Duration", "Passed", "Failed", "Timed Out", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Timed Out", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, r := range report.Results {
		t.AppendRow(table.Row{
			r.File.Path,
			formatDuration(r.Duration),
			boolToInt(r.Status == types.TestStatusPassed),
			boolToInt(r.Status == types.TestStatusFailed),
			boolToInt(r.Status == types.TestStatusTimedOut),
			getResultString(r.Status),
			reporting.KeyErrorMessage(r.Message()),
		})
	}

	if report.Success() {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	overall := types.TestStatusPassed
	if !report.Success() {
		overall = types.TestStatusFailed
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL (%d)", report.Total()),
		formatDuration(report.Duration()),
		report.PassedCount,
		report.FailedCount,
		report.TimedOutCount,
		getResultString(overall),
		"",
	})

	t.Render()

	_, err := fmt.Fprintln(f.out, report.Summary())
	return err
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
