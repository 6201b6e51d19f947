package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// ProgressObserver is notified as test files start and finish. Calls arrive
// from worker goroutines concurrently.
type ProgressObserver interface {
	RunStarted(total int)
	TestStarted(file types.TestFile)
	TestFinished(result *types.TestResult)
	RunFinished()
}

// noOpProgressObserver provides a no-op implementation of ProgressObserver
type noOpProgressObserver struct{}

// NewNoOpProgressObserver creates a progress observer that does nothing
func NewNoOpProgressObserver() ProgressObserver {
	return &noOpProgressObserver{}
}

func (n *noOpProgressObserver) RunStarted(total int)                  {}
func (n *noOpProgressObserver) TestStarted(file types.TestFile)       {}
func (n *noOpProgressObserver) TestFinished(result *types.TestResult) {}
func (n *noOpProgressObserver) RunFinished()                          {}

// multiObserver fans notifications out to several observers.
type multiObserver []ProgressObserver

// NewMultiObserver combines observers; nil entries are skipped.
func NewMultiObserver(observers ...ProgressObserver) ProgressObserver {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) RunStarted(total int) {
	for _, o := range m {
		o.RunStarted(total)
	}
}

func (m multiObserver) TestStarted(file types.TestFile) {
	for _, o := range m {
		o.TestStarted(file)
	}
}

func (m multiObserver) TestFinished(result *types.TestResult) {
	for _, o := range m {
		o.TestFinished(result)
	}
}

func (m multiObserver) RunFinished() {
	for _, o := range m {
		o.RunFinished()
	}
}

// logProgressObserver periodically logs how far the run is and which files are
// taking the longest.
type logProgressObserver struct {
	logger   log.Logger
	interval time.Duration

	mu        sync.RWMutex
	total     int
	completed int
	running   map[string]time.Time // file -> start time
	stopCh    chan struct{}
}

// NewLogProgressObserver creates an observer that logs a progress update every interval.
func NewLogProgressObserver(logger log.Logger, interval time.Duration) ProgressObserver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &logProgressObserver{
		logger:   logger,
		interval: interval,
		running:  make(map[string]time.Time),
	}
}

func (c *logProgressObserver) RunStarted(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = total
	c.completed = 0
	c.running = make(map[string]time.Time)
	c.stopCh = make(chan struct{})
	go c.progressReporter(c.stopCh)
}

func (c *logProgressObserver) TestStarted(file types.TestFile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running[file.Path] = time.Now()
}

func (c *logProgressObserver) TestFinished(result *types.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, result.File.Path)
	c.completed++
	c.logger.Debug("Test completed", "file", result.File.Path, "status", result.Status, "completed", c.completed, "total", c.total)
}

func (c *logProgressObserver) RunFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

func (c *logProgressObserver) progressReporter(stopCh chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.reportProgress()
		case <-stopCh:
			return
		}
	}
}

func (c *logProgressObserver) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.total > 0 {
		percentComplete = float64(c.completed) * 100.0 / float64(c.total)
	}

	c.logger.Info("Progress update",
		"completed", c.completed,
		"total", c.total,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.running),
		"longestRunning", formatRunningTests(c.running, 3))
}

// formatRunningTests lists the longest running files first, at most maxShow of them.
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for name, startTime := range runningTests {
		running = append(running, runningTest{
			name:     name,
			duration: now.Sub(startTime),
		})
	}

	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
