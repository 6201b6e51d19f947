package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/nvim-test-runner/nvim-test-runner/reporting"
	"github.com/nvim-test-runner/nvim-test-runner/runner"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// Console prints one line per finished test file, plus dependency warnings, as they happen.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	pass    *color.Color
	fail    *color.Color
	timeout *color.Color
	warn    *color.Color
	faint   *color.Color
}

var _ runner.ProgressObserver = (*Console)(nil)

// NewConsole creates a console writing to out. Colors follow fatih/color's terminal detection.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		pass:    color.New(color.FgGreen),
		fail:    color.New(color.FgRed, color.Bold),
		timeout: color.New(color.FgMagenta),
		warn:    color.New(color.FgYellow),
		faint:   color.New(color.Faint),
	}
}

func (c *Console) RunStarted(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faint.Fprintf(c.out, "Running %d test file(s)\n", total)
}

func (c *Console) TestStarted(file types.TestFile) {}

func (c *Console) TestFinished(result *types.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	icon := reporting.GetStatusDisplay(result.Status).Icon
	switch result.Status {
	case types.TestStatusPassed:
		c.pass.Fprintf(c.out, "%s %s", icon, result.File.Path)
		c.faint.Fprintf(c.out, " (%s)\n", reporting.FormatDuration(result.Duration))
	case types.TestStatusTimedOut:
		c.timeout.Fprintf(c.out, "%s %s: %s\n", icon, result.File.Path, reporting.KeyErrorMessage(result.Message()))
	default:
		c.fail.Fprintf(c.out, "%s %s", icon, result.File.Path)
		fmt.Fprintf(c.out, ": %s\n", reporting.KeyErrorMessage(result.Message()))
	}
}

func (c *Console) RunFinished() {}

// Warning prints a highlighted warning line
func (c *Console) Warning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warn.Fprintf(c.out, "warning: %s\n", msg)
}

// Dependencies lists the resolved dependencies in runtime path order
func (c *Console) Dependencies(deps []types.ResolvedDependency) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(deps) == 0 {
		return
	}
	fmt.Fprintf(c.out, "Dependencies:\n")
	for i, d := range deps {
		fmt.Fprintf(c.out, "%s%s", BuildTreePrefix(i == len(deps)-1), d.Spec.Name())
		switch {
		case d.Revision == types.LocalRevision || d.Revision == "":
			c.faint.Fprintf(c.out, " (%s)", d.LocalPath)
		default:
			c.faint.Fprintf(c.out, " @ %s", shortRevision(d.Revision))
		}
		if d.WasUpdated {
			c.warn.Fprintf(c.out, " updated")
		}
		fmt.Fprintln(c.out)
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
