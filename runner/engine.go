package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvim-test-runner/nvim-test-runner/metrics"
	"github.com/nvim-test-runner/nvim-test-runner/types"
)

// Config holds the engine configuration
type Config struct {
	ProjectDir      string
	Host            HostCommand
	Timeout         time.Duration // Per file; DefaultTestTimeout when zero
	Concurrency     int           // Worker count; number of CPUs when zero
	Observer        ProgressObserver
	OutputTailBytes int // Retained output per stream; defaultOutputTailBytes when zero
	Log             log.Logger
}

// Engine runs test files as isolated host subprocesses.
type Engine struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer
}

// NewEngine creates a new Engine, filling in defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative: %d", cfg.Concurrency)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative: %v", cfg.Timeout)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Host == nil {
		cfg.Host = NeovimCommand{Binary: DefaultHostBinary}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTestTimeout
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Observer == nil {
		cfg.Observer = NewNoOpProgressObserver()
	}
	if cfg.Concurrency > MaxReasonableConcurrency {
		cfg.Log.Warn("Very high concurrency requested", "concurrency", cfg.Concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	return &Engine{
		cfg:    cfg,
		log:    cfg.Log.New("component", "engine"),
		tracer: otel.Tracer("test engine"),
	}, nil
}

// Concurrency returns the effective worker count.
func (e *Engine) Concurrency() int {
	return e.cfg.Concurrency
}

// Timeout returns the effective per-file timeout.
func (e *Engine) Timeout() time.Duration {
	return e.cfg.Timeout
}

// Run executes every file and returns one result per file, in the order of files.
// Per-file failures are recorded in the results; Run itself never fails.
func (e *Engine) Run(ctx context.Context, files []types.TestFile, deps []types.ResolvedDependency) []*types.TestResult {
	ctx, span := e.tracer.Start(ctx, "run test files")
	defer span.End()
	span.SetAttributes(
		attribute.Int("files", len(files)),
		attribute.Int("dependencies", len(deps)),
		attribute.Int("concurrency", e.cfg.Concurrency),
	)

	rtp := RuntimePath(e.cfg.ProjectDir, deps)
	e.log.Debug("Assembled runtime path", "rtp", rtp)

	return e.executeParallel(ctx, files, rtp)
}

// RunFile executes a single file. Panics are recovered into a failed result.
func (e *Engine) RunFile(ctx context.Context, file types.TestFile, runtimePath []string) (result *types.TestResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Panic while running test file", "file", file.Path, "panic", r)
			metrics.RecordError("engine_panic")
			result = &types.TestResult{
				File:     file,
				Status:   types.TestStatusFailed,
				Error:    fmt.Errorf("runner panic: %v", r),
				ExitCode: -1,
			}
		}
	}()

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("test %s", file.Path))
	defer span.End()

	result = e.runFile(ctx, file, runtimePath)

	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int64("duration_ms", result.DurationMs()),
	)
	if !result.Passed() {
		span.SetStatus(codes.Error, result.Message())
	}
	metrics.RecordTestResult(result.Status, result.Duration)
	return result
}

func (e *Engine) runFile(ctx context.Context, file types.TestFile, runtimePath []string) *types.TestResult {
	fileCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := e.cfg.Host.Command(fileCtx, file.Abs(e.cfg.ProjectDir), runtimePath)
	cmd.Dir = e.cfg.ProjectDir
	cmd.Stdin = nil
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = telemetry.InstrumentEnvironment(fileCtx, env)
	configureProcess(cmd)

	// Only a kill issued by the deadline makes the file time out.
	var killed atomic.Bool
	kill := cmd.Cancel
	cmd.Cancel = func() error {
		killed.Store(true)
		if kill != nil {
			return kill()
		}
		return cmd.Process.Kill()
	}

	stdout := newOutputBuffer(0, e.cfg.OutputTailBytes)
	stderr := newOutputBuffer(0, e.cfg.OutputTailBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.log.Info("Running test file", "file", file.Path)
	e.log.Debug("Running test command", "dir", cmd.Dir, "command", cmd.String(), "timeout", e.cfg.Timeout)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	if errors.Is(err, exec.ErrWaitDelay) {
		// The host exited cleanly but a child it spawned still held the output pipes.
		e.log.Debug("Output pipes outlived the host process", "file", file.Path)
		err = nil
	}
	// Reap anything the test left behind in its process group.
	if kerr := killProcessGroup(cmd); kerr != nil {
		e.log.Debug("Failed to clean up process group", "file", file.Path, "error", kerr)
	}

	result := &types.TestResult{
		File:     file,
		Duration: duration,
		ExitCode: exitCode(cmd),
		Stdout:   stripansi.Strip(stdout.String()),
		Stderr:   stripansi.Strip(stderr.String()),
		Command:  cmd.String(),
	}
	errText := result.Stderr
	if stderr.Truncated() {
		errText = stripansi.Strip(stderr.Head())
	}
	timedOut := killed.Load() && errors.Is(fileCtx.Err(), context.DeadlineExceeded)
	e.classify(ctx, timedOut, file, err, errText, result)

	e.log.Debug("Test file finished",
		"file", file.Path,
		"status", result.Status,
		"duration", duration,
		"exitCode", result.ExitCode,
		"stdoutBytes", stdout.TotalBytes(),
		"stderrBytes", stderr.TotalBytes())
	return result
}

// classify derives the outcome from how the process ended, never from what it printed.
// The message of a failure is taken from errText, the start of the captured error output.
func (e *Engine) classify(ctx context.Context, timedOut bool, file types.TestFile, err error, errText string, result *types.TestResult) {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Status = types.TestStatusPassed
	case ctx.Err() != nil:
		result.Status = types.TestStatusFailed
		result.Error = fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	case timedOut:
		result.Status = types.TestStatusTimedOut
		result.Error = fmt.Errorf("%w after %v", ErrTestTimedOut, e.cfg.Timeout)
	case errors.As(err, &exitErr):
		result.Status = types.TestStatusFailed
		result.Error = errors.New(failureMessage(errText, exitErr))
	default:
		result.Status = types.TestStatusFailed
		result.Error = &ExecutionError{File: file.Path, Err: err}
	}
}

// failureMessage returns the error text the test raised, or a description of the exit.
func failureMessage(stderr string, exitErr *exec.ExitError) string {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("host exited abnormally (%s)", exitErr.ProcessState)
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
