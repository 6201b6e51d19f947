package testrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/nvim-test-runner/nvim-test-runner/deps"
	"github.com/nvim-test-runner/nvim-test-runner/exitcodes"
	"github.com/nvim-test-runner/nvim-test-runner/logging"
	"github.com/nvim-test-runner/nvim-test-runner/metrics"
	"github.com/nvim-test-runner/nvim-test-runner/reporting"
	"github.com/nvim-test-runner/nvim-test-runner/runner"
	"github.com/nvim-test-runner/nvim-test-runner/service"
	"github.com/nvim-test-runner/nvim-test-runner/types"
	"github.com/nvim-test-runner/nvim-test-runner/ui"
)

var _ cliapp.Lifecycle = (*Orchestrator)(nil)

// Orchestrator drives test runs, once or on an interval, and owns everything
// that outlives a single run: the log artifact, the console and the
// healthz/metrics service.
type Orchestrator struct {
	config     *Config
	version    string
	scheduler  TestScheduler
	executor   TestExecutor
	formatter  ResultFormatter
	reporter   MetricsReporter
	fileLogger *logging.FileLogger
	service    *service.Service
	console    *ui.Console

	lastReport atomic.Pointer[reporting.RunReport]
	running    atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates an Orchestrator. The log artifact is truncated here, once per
// invocation; every run then appends its own section.
func New(config *Config, version string, shutdownCallback func(error)) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	fileLogger, err := logging.NewFileLogger(config.LogFile, uuid.New().String())
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create log file: %w", err))
	}
	config.Log = log.NewLogger(logging.NewTeeHandler(config.Log.Handler(), fileLogger.Handler(log.LevelDebug)))

	config.Log.Debug("Creating orchestrator with config",
		"projectDir", config.ProjectDir,
		"manifest", config.ManifestPath,
		"cacheDir", config.CacheDir,
		"logFile", config.LogFile,
		"timeout", config.Timeout,
		"concurrency", config.Concurrency,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	console := ui.NewConsole(config.out())
	observers := []runner.ProgressObserver{console}
	if config.ShowProgress {
		observers = append(observers, runner.NewLogProgressObserver(config.Log, config.ProgressInterval))
	}

	executor := NewDefaultTestExecutor(config, runner.NewMultiObserver(observers...), fileLogger)
	executor.OnWarning(func(w deps.Warning) {
		console.Warning(w.Message)
	})
	executor.OnResolved(func(resolved []types.ResolvedDependency) {
		console.Dependencies(resolved)
	})

	o := &Orchestrator{
		config:           config,
		version:          version,
		scheduler:        NewDefaultTestScheduler(config.RunInterval, config.RunOnce, config.Log),
		executor:         executor,
		formatter:        NewConsoleResultFormatter(config.Log, config.out()),
		reporter:         NewDefaultMetricsReporter(),
		fileLogger:       fileLogger,
		console:          console,
		shutdownCallback: shutdownCallback,
	}
	o.service = service.New(config.Service, config.Log, o.LastReport)
	return o, nil
}

// Start runs the tests immediately and, outside run-once mode, keeps running
// them on the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			o.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	o.running.Store(true)

	if o.config.RunOnce {
		o.config.Log.Info("Starting nvim-test-runner in run-once mode", "version", o.version)
	} else {
		o.config.Log.Info("Starting nvim-test-runner in continuous mode", "version", o.version, "interval", o.config.RunInterval)
	}

	if o.service.Enabled() {
		if err := o.service.Start(ctx); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to start service: %w", err))
		}
	}

	o.scheduler.RegisterCallback(o.runTests)
	if err := o.scheduler.Start(ctx); err != nil {
		o.config.Log.Error("Runtime error running tests", "error", err)
		if IsRuntimeError(err) {
			return err
		}
		return NewRuntimeError(err)
	}

	if o.config.RunOnce {
		o.config.Log.Info("Tests completed, exiting (run-once mode)")

		if report := o.LastReport(); report != nil && !report.Success() {
			o.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(report.Summary())
		}

		go func() {
			o.shutdownCallback(nil)
		}()
		return nil
	}

	o.config.Log.Debug("nvim-test-runner started successfully")
	return nil
}

// runTests runs all tests once and publishes the results
func (o *Orchestrator) runTests(ctx context.Context) error {
	report, err := o.executor.RunTests(ctx)
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		if IsRuntimeError(err) {
			return err
		}
		return NewRuntimeError(err)
	}
	o.lastReport.Store(report)
	o.reporter.ReportResults(report)

	if err := o.formatter.FormatResults(report); err != nil {
		o.config.Log.Warn("Failed to print results", "error", err)
	}
	o.config.Log.Info("Results written", "run_id", report.RunID, "logFile", o.fileLogger.Path())
	return nil
}

// Stop stops scheduling runs, shuts down the service and closes the log file.
// Stop implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.config.Log.Info("Stopping nvim-test-runner")

	if !o.running.Load() {
		o.config.Log.Debug("Service already stopped, nothing to do")
		return o.fileLogger.Close()
	}
	o.running.Store(false)

	var result error
	if err := o.scheduler.Stop(); err != nil {
		result = errors.Join(result, err)
	}
	if err := o.scheduler.WaitForShutdown(ctx); err != nil {
		result = errors.Join(result, err)
	}
	if err := o.service.Shutdown(ctx); err != nil {
		result = errors.Join(result, err)
	}

	o.config.Log.Info("nvim-test-runner stopped successfully")
	if err := o.fileLogger.Close(); err != nil {
		result = errors.Join(result, err)
	}
	return result
}

// Stopped returns true if the orchestrator is stopped, or the scheduler
// stopped on its own because the context was cancelled.
// Stopped implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stopped() bool {
	return !o.running.Load() || o.scheduler.Stopped()
}

// LastReport returns the report of the most recent completed run, or nil.
func (o *Orchestrator) LastReport() *reporting.RunReport {
	return o.lastReport.Load()
}

// LogFile returns the path of the log artifact.
func (o *Orchestrator) LogFile() string {
	return o.fileLogger.Path()
}

// WaitForShutdown blocks until the periodic runner has terminated.
func (o *Orchestrator) WaitForShutdown(ctx context.Context) error {
	return o.scheduler.WaitForShutdown(ctx)
}
