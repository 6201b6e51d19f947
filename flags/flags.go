package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "NVIM_TEST_RUNNER"

var (
	ProjectDir = &cli.StringFlag{
		Name:    "project-dir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT_DIR"),
		Usage:   "Path to the plugin project whose tests should run",
	}
	Config = &cli.StringFlag{
		Name:    "config",
		Value:   "nvim-test-runner.json",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the project manifest, relative to the project directory. Must exist when set explicitly.",
	}
	CacheDir = &cli.StringFlag{
		Name:    "cache-dir",
		Value:   ".test",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CACHE_DIR"),
		Usage:   "Directory holding cached dependency checkouts, relative to the project directory",
	}
	LogFile = &cli.StringFlag{
		Name:    "log-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_FILE"),
		Usage:   "Path of the run log artifact (defaults to nvim-test-runner.log in the temp directory)",
	}
	HostBinary = &cli.StringFlag{
		Name:    "host-binary",
		Value:   "nvim",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HOST_BINARY"),
		Usage:   "Path to the Neovim binary used to run test files",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout for each test file (e.g. '30s', '2m')",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of test files run at once. 0 uses the number of CPUs.",
	}
	SkipRemoteCheck = &cli.BoolFlag{
		Name:    "skip-remote-check",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_REMOTE_CHECK"),
		Usage:   "Use cached dependency checkouts without asking remotes for updates",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while test files run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when show-progress is enabled",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz.enabled",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ENABLED"),
		Usage:   "Serve /healthz with the status of the last run",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ProjectDir,
	Config,
	CacheDir,
	LogFile,
	HostBinary,
	Timeout,
	Concurrency,
	SkipRemoteCheck,
	RunInterval,
	ShowProgress,
	ProgressInterval,
	HealthzEnabled,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
