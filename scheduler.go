package testrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunFunc performs one test run. The context is cancelled when the scheduler stops.
type RunFunc func(ctx context.Context) error

// TestScheduler is responsible for scheduling test runs.
type TestScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(RunFunc)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
	Runs() int64
}

// DefaultTestScheduler runs the callback once on Start and then, unless in
// run-once mode, again each time interval has elapsed since the previous run
// finished. Runs never overlap.
type DefaultTestScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback RunFunc

	running atomic.Bool
	runs    atomic.Int64
	cancel  context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewDefaultTestScheduler creates a new DefaultTestScheduler.
func NewDefaultTestScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultTestScheduler {
	return &DefaultTestScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
	}
}

// RegisterCallback registers the callback to be called when tests should run.
func (s *DefaultTestScheduler) RegisterCallback(callback RunFunc) {
	s.callback = callback
}

// Start performs the first run synchronously and returns its error. In
// continuous mode later runs happen in the background and their errors are
// only logged.
func (s *DefaultTestScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	if !s.runOnce && s.interval <= 0 {
		return errors.New("run interval must be positive in continuous mode")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.run(runCtx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.run(runCtx); err != nil {
		s.running.Store(false)
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-timer.C:
				if !s.running.Load() {
					return
				}
				s.logger.Info("Running periodic tests", "run", s.runs.Load()+1)
				if err := s.run(runCtx); err != nil {
					s.logger.Error("Error running periodic tests", "error", err)
				}
				s.logger.Info("Next test run scheduled", "in", s.interval)
				timer.Reset(s.interval)

			case <-runCtx.Done():
				if ctx.Err() != nil {
					s.logger.Debug("Context canceled, stopping periodic test runner")
				} else {
					s.logger.Debug("Scheduler stopped, exiting periodic test runner")
				}
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

func (s *DefaultTestScheduler) run(ctx context.Context) error {
	defer s.runs.Add(1)
	return s.callback(ctx)
}

// Stop stops scheduling new runs and cancels the one in progress, if any.
func (s *DefaultTestScheduler) Stop() error {
	if !s.running.Swap(false) {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultTestScheduler) Stopped() bool {
	return !s.running.Load()
}

// Runs returns the number of completed runs, failed ones included.
func (s *DefaultTestScheduler) Runs() int64 {
	return s.runs.Load()
}

// WaitForShutdown blocks until the periodic runner goroutine has terminated.
func (s *DefaultTestScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
