package testrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nvim-test-runner/nvim-test-runner/cache"
	"github.com/nvim-test-runner/nvim-test-runner/deps"
	"github.com/nvim-test-runner/nvim-test-runner/discovery"
	"github.com/nvim-test-runner/nvim-test-runner/logging"
	"github.com/nvim-test-runner/nvim-test-runner/manifest"
	"github.com/nvim-test-runner/nvim-test-runner/reporting"
	"github.com/nvim-test-runner/nvim-test-runner/runner"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// TestExecutor is responsible for running tests.
type TestExecutor interface {
	RunTests(ctx context.Context) (*reporting.RunReport, error)
}

// DefaultTestExecutor runs the whole pipeline once: manifest, dependencies and
// discovery, execution, aggregation.
type DefaultTestExecutor struct {
	config     *Config
	logger     log.Logger
	observer   runner.ProgressObserver
	onWarning  func(deps.Warning)
	onResolved func([]types.ResolvedDependency)
	fileLogger *logging.FileLogger
	tracer     trace.Tracer
}

// NewDefaultTestExecutor creates a new DefaultTestExecutor. fileLogger may be nil.
func NewDefaultTestExecutor(config *Config, observer runner.ProgressObserver, fileLogger *logging.FileLogger) *DefaultTestExecutor {
	return &DefaultTestExecutor{
		config:     config,
		logger:     config.Log,
		observer:   observer,
		onWarning:  func(deps.Warning) {},
		onResolved: func([]types.ResolvedDependency) {},
		fileLogger: fileLogger,
		tracer:     otel.Tracer("test run"),
	}
}

// OnWarning registers the handler for dependency warnings.
func (e *DefaultTestExecutor) OnWarning(fn func(deps.Warning)) {
	e.onWarning = fn
}

// OnResolved registers a handler called with the resolved dependencies before execution.
func (e *DefaultTestExecutor) OnResolved(fn func([]types.ResolvedDependency)) {
	e.onResolved = fn
}

// RunTests runs all tests and returns the report. Configuration and dependency
// problems are returned as RuntimeErrors; test failures only show in the report.
func (e *DefaultTestExecutor) RunTests(ctx context.Context) (*reporting.RunReport, error) {
	runID := uuid.New().String()
	startedAt := time.Now()
	logger := e.logger.New("run_id", runID)

	ctx, span := e.tracer.Start(ctx, "test run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	logger.Info("Running all tests...", "project", e.config.ProjectDir)
	if e.fileLogger != nil {
		if err := e.fileLogger.BeginRun(runID, startedAt); err != nil {
			logger.Warn("Failed to write run header to log file", "error", err)
		}
	}

	m, err := manifest.Load(logger, e.config.ManifestPath, e.config.ManifestRequired)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	store, err := cache.Open(e.config.CacheDir)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	resolver, err := deps.NewResolver(deps.Config{
		ProjectDir:      e.config.ProjectDir,
		Cache:           store,
		Git:             e.config.Git,
		SkipRemoteCheck: e.config.SkipRemoteCheck,
		OnWarning:       e.onWarning,
		Log:             logger,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create dependency resolver: %w", err))
	}

	// Discovery does not depend on the dependencies, so both run at once.
	var (
		g        errgroup.Group
		resolved []types.ResolvedDependency
		files    []types.TestFile
	)
	g.Go(func() error {
		var err error
		resolved, err = resolver.ResolveAll(ctx, m.TestDependencies)
		return err
	})
	g.Go(func() error {
		files = discovery.Discover(logger, e.config.ProjectDir, m.Patterns())
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("Dependency resolution failed, not running tests", "error", err)
		return nil, NewRuntimeError(fmt.Errorf("dependency resolution failed: %w", err))
	}
	e.onResolved(resolved)

	engine, err := runner.NewEngine(runner.Config{
		ProjectDir:  e.config.ProjectDir,
		Host:        e.config.host(),
		Timeout:     e.config.Timeout,
		Concurrency: e.config.Concurrency,
		Observer:    e.observer,
		Log:         logger,
	})
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create test engine: %w", err))
	}

	if e.fileLogger != nil {
		_ = e.fileLogger.LogRuntimePath(runner.RuntimePath(e.config.ProjectDir, resolved))
	}

	var results []*types.TestResult
	if len(files) == 0 {
		logger.Warn("No test files found", "patterns", m.Patterns())
	} else {
		results = engine.Run(ctx, files, resolved)
	}

	report := reporting.Aggregate(runID, results, startedAt, time.Now())
	span.SetAttributes(
		attribute.Int("passed", report.PassedCount),
		attribute.Int("failed", report.FailedCount),
		attribute.Int("timed_out", report.TimedOutCount),
	)

	if e.fileLogger != nil {
		for _, r := range report.Results {
			if err := e.fileLogger.LogTestResult(r); err != nil {
				logger.Warn("Failed to write test result to log file", "file", r.File.Path, "error", err)
			}
		}
		if err := e.fileLogger.LogSummary(report); err != nil {
			logger.Warn("Failed to write summary to log file", "error", err)
		}
	}

	logger.Info("Test run completed", "passed", report.PassedCount, "failed", report.FailedCount,
		"timedOut", report.TimedOutCount, "duration", report.Duration())
	return report, nil
}
