package testrunner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/nvim-test-runner/nvim-test-runner/deps"
	"github.com/nvim-test-runner/nvim-test-runner/flags"
	"github.com/nvim-test-runner/nvim-test-runner/logging"
	"github.com/nvim-test-runner/nvim-test-runner/runner"
	"github.com/nvim-test-runner/nvim-test-runner/service"
)

// Config holds the application configuration
type Config struct {
	ProjectDir       string        // Absolute path of the plugin project
	ManifestPath     string        // Absolute path of the project manifest
	ManifestRequired bool          // The manifest was named explicitly and must exist
	CacheDir         string        // Absolute path of the dependency cache
	LogFile          string        // Absolute path of the run log artifact
	HostBinary       string        // Neovim binary used to run test files
	Timeout          time.Duration // Timeout for each test file
	Concurrency      int           // Number of concurrent test workers (0 = number of CPUs)
	SkipRemoteCheck  bool          // Use cached dependency checkouts without contacting remotes
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Indicates if the service should exit after one test run
	ShowProgress     bool          // Whether to log periodic progress updates during test execution
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'
	Service          service.Config
	Log              log.Logger

	// Overrides, mostly for tests. Nil values select the real implementations.
	Host runner.HostCommand
	Git  deps.Git
	Out  io.Writer
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	projectDir := ctx.String(flags.ProjectDir.Name)
	if projectDir == "" {
		return nil, errors.New("project directory is required")
	}
	absProjectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for project directory '%s': %w", projectDir, err)
	}
	info, err := os.Stat(absProjectDir)
	if err != nil {
		return nil, fmt.Errorf("project directory '%s': %w", absProjectDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory '%s' is not a directory", absProjectDir)
	}

	timeout := ctx.Duration(flags.Timeout.Name)
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative, got %d", concurrency)
	}

	logFile := ctx.String(flags.LogFile.Name)
	if logFile == "" {
		logFile = logging.DefaultPath()
	}
	logFile, err = filepath.Abs(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log file '%s': %w", logFile, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		ProjectDir:       absProjectDir,
		ManifestPath:     underProject(absProjectDir, ctx.String(flags.Config.Name)),
		ManifestRequired: ctx.IsSet(flags.Config.Name),
		CacheDir:         underProject(absProjectDir, ctx.String(flags.CacheDir.Name)),
		LogFile:          logFile,
		HostBinary:       ctx.String(flags.HostBinary.Name),
		Timeout:          timeout,
		Concurrency:      concurrency,
		SkipRemoteCheck:  ctx.Bool(flags.SkipRemoteCheck.Name),
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Service: service.Config{
			HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
			HealthzAddr:    ctx.String(flags.HealthzAddr.Name),
			Metrics:        opmetrics.ReadCLIConfig(ctx),
		},
		Log: log,
	}, nil
}

// underProject resolves p against the project directory unless it is absolute.
func underProject(projectDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(projectDir, p)
}

func (c *Config) host() runner.HostCommand {
	if c.Host != nil {
		return c.Host
	}
	return runner.NeovimCommand{Binary: c.HostBinary}
}

func (c *Config) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}
