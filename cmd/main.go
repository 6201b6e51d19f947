package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	testrunner "github.com/nvim-test-runner/nvim-test-runner"
	"github.com/nvim-test-runner/nvim-test-runner/exitcodes"
	"github.com/nvim-test-runner/nvim-test-runner/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "nvim-test-runner"
	app.Usage = "Test runner for Neovim plugins"
	app.Description = "nvim-test-runner resolves a plugin's test dependencies, runs every test file " +
		"in its own headless Neovim and reports the results"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = handleExitErr
	return app
}

// handleExitErr maps errors to process exit codes: 1 for test failures and 2
// for everything that prevented the tests from running.
func handleExitErr(c *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		cli.HandleExitCoder(exitErr)
		return
	}
	cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeFor(err)))
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case testrunner.IsTestFailureError(err):
		return exitcodes.TestFailure
	default:
		// RuntimeErrors and anything unclassified, such as flag parsing errors
		return exitcodes.RuntimeErr
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := testrunner.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, testrunner.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	orchestrator, err := testrunner.New(cfg, Version, closeApp)
	if err != nil {
		if testrunner.IsRuntimeError(err) {
			return nil, err
		}
		return nil, testrunner.NewRuntimeError(fmt.Errorf("failed to create test runner: %w", err))
	}

	return orchestrator, nil
}
