package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvim-test-runner/nvim-test-runner/reporting"
	"github.com/nvim-test-runner/nvim-test-runner/types"
	"github.com/nvim-test-runner/nvim-test-runner/ui"
)

// DefaultFileName is the name of the log artifact inside the temp directory
const DefaultFileName = "nvim-test-runner.log"

const boxWidth = 72

// DefaultPath returns the default location of the log artifact
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// FileLogger writes the log artifact of a run: the application log trail, one block
// per test file with its full output, and the run summary. The file is truncated when
// the logger is created, so it always describes the latest run.
type FileLogger struct {
	path  string
	runID string

	mu     sync.Mutex
	out    *AsyncFile
	closed bool
}

// artifactQueueSize is how many pending writes the artifact absorbs before a
// log call or a test block has to wait for the disk.
const artifactQueueSize = 100

// AsyncFile is the log artifact on disk. Two kinds of writers share it: the
// logfmt handler teed off the application logger, and the FileLogger blocks
// written as each test file finishes. Writes are queued and applied in order
// by a single goroutine, so records and blocks never interleave mid-line.
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

var _ io.Writer = (*AsyncFile)(nil)

// NewAsyncFile truncates path and starts draining the queue into it.
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, artifactQueueSize),
	}

	af.wg.Add(1)
	go af.drain()

	return af, nil
}

// Write queues a copy of data. It fails once the artifact is closed, which is
// how late log records after Stop are dropped.
func (af *AsyncFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return 0, errors.New("log artifact is closed")
	}

	// slog handlers reuse their buffers once Write returns.
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return len(data), nil
}

func (af *AsyncFile) drain() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			// The logger itself writes here, so report on stderr instead.
			fmt.Fprintf(os.Stderr, "Error writing log artifact: %v\n", err)
		}
	}
}

// Close flushes every queued record and block, then closes the file.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates the log artifact at path and writes the run header
func NewFileLogger(path string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	if path == "" {
		return nil, errors.New("log file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	out, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}

	l := &FileLogger{path: path, runID: runID, out: out}
	_ = l.write(fmt.Sprintf("nvim-test-runner run %s started at %s\n\n", runID, time.Now().Format(time.RFC3339)))
	return l, nil
}

// Path returns the location of the log artifact
func (l *FileLogger) Path() string {
	return l.path
}

// GetRunID returns the run this logger belongs to
func (l *FileLogger) GetRunID() string {
	return l.runID
}

func (l *FileLogger) write(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("file logger is closed")
	}
	_, err := l.out.Write([]byte(s))
	return err
}

// BeginRun marks the start of a run. In continuous mode one artifact holds several runs.
func (l *FileLogger) BeginRun(runID string, startedAt time.Time) error {
	return l.write(fmt.Sprintf("\n==== run %s started at %s ====\n\n", runID, startedAt.Format(time.RFC3339)))
}

// LogRuntimePath records the runtime path every host process of the run receives
func (l *FileLogger) LogRuntimePath(rtp []string) error {
	var content strings.Builder
	fmt.Fprintf(&content, "RUNTIME PATH:\n")
	for i, p := range rtp {
		fmt.Fprintf(&content, "  %d. %s\n", i+1, p)
	}
	fmt.Fprintf(&content, "\n")
	return l.write(content.String())
}

// LogTestResult writes the block for one test file
func (l *FileLogger) LogTestResult(result *types.TestResult) error {
	if result == nil {
		return nil
	}
	var content strings.Builder

	fmt.Fprintf(&content, "\n")
	content.WriteString(ui.BuildBoxHeader("FILE: "+result.File.Path, boxWidth))
	content.WriteString(ui.BuildBoxLine("Status:    "+reporting.GetStatusDisplay(result.Status).Text, boxWidth))
	content.WriteString(ui.BuildBoxLine("Duration:  "+reporting.FormatDuration(result.Duration), boxWidth))
	content.WriteString(ui.BuildBoxLine(fmt.Sprintf("Exit code: %d", result.ExitCode), boxWidth))
	content.WriteString(ui.BuildBoxFooter(boxWidth))
	fmt.Fprintf(&content, "\n")

	if result.Command != "" {
		fmt.Fprintf(&content, "COMMAND:\n")
		fmt.Fprintf(&content, "~~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", indentText(result.Command, "  "))
	}

	if result.Error != nil {
		fmt.Fprintf(&content, "ERROR:\n")
		fmt.Fprintf(&content, "~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", indentText(result.Error.Error(), "  "))
	}

	if result.Stdout != "" {
		fmt.Fprintf(&content, "STDOUT:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(result.Stdout, "  "))
	}

	if result.Stderr != "" {
		fmt.Fprintf(&content, "STDERR:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(result.Stderr, "  "))
	}

	return l.write(content.String())
}

// LogSummary writes the detailed run summary
func (l *FileLogger) LogSummary(report *reporting.RunReport) error {
	return l.write("\n" + reporting.NewTextSummaryFormatter(true).Format(report))
}

// Close flushes pending writes and closes the artifact. It is safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.out.Close()
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}
