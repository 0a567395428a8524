// Package cli maps the loadsim command line to coordinator operations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadsim/config"
	"loadsim/coordinator"
	"loadsim/output"
	"loadsim/protocol"
)

const appVersion = "1.0.0"

// Sender delivers an operation to the coordinator
type Sender func(ctx context.Context, op protocol.Operation) (*protocol.Response, error)

// App represents the main application
type App struct {
	flags  Flags
	logger *zap.Logger
	root   *cobra.Command

	stdout io.Writer
	stderr io.Writer

	// send is replaced in tests
	send Sender
}

// NewApp creates a new application instance
func NewApp() *App {
	a := &App{
		logger: zap.NewNop(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	a.send = a.sendToCoordinator

	a.root = &cobra.Command{
		Use:           "loadsim",
		Short:         "Distributed load test coordinator",
		Long:          "loadsim starts workers on agent machines, runs test suites on them and controls them while they run.",
		Version:       appVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.flags.Verbose)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	a.flags.register(a.root.PersistentFlags())

	a.root.AddCommand(
		a.coordinatorCommand(),
		a.installCommand(),
		a.downloadCommand(),
		a.printLayoutCommand(),
		a.stopCommand(),
		a.testRunCommand("test-run", true),
		a.testRunCommand("test-start", false),
		a.testStatusCommand(),
		a.testStopCommand(),
		a.workerKillCommand(),
		a.workerScriptCommand(),
		a.workerStartCommand(),
	)
	return a
}

// Run executes the command line args and reports any failure on stderr
func (a *App) Run(args []string) error {
	a.root.SetArgs(args)
	a.root.SetOut(a.stdout)
	a.root.SetErr(a.stderr)

	err := a.root.Execute()
	a.logger.Sync()
	if err != nil {
		a.reportError(err)
	}
	return err
}

func (a *App) reportError(err error) {
	formatter := output.NewFormatter(true, false)
	var opErr *protocol.OperationError
	if errors.As(err, &opErr) {
		formatter.WriteError(a.stderr, errors.New(opErr.Message()))
		return
	}
	formatter.WriteError(a.stderr, err)
}

// newLogger builds the production logger, or the development logger at
// debug level when verbose
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func (a *App) coordinatorCommand() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Connect to the agents, start the workers and serve remote operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCoordinator(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to configuration file")
	return cmd
}

// runCoordinator runs a coordinator session until it is stopped remotely
// or by a signal
func (a *App) runCoordinator(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.logger.Info("loading configuration", zap.String("file", configFile))
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := coordinator.NewCoordinator(cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.ShutdownTimeout+cfg.Coordinator.PollInterval)
		defer cancel()
		if err := coord.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	a.logger.Info("connecting to agents", zap.Int("agents", len(cfg.Agents)))
	if err := coord.ConnectAgents(ctx); err != nil {
		return fmt.Errorf("failed to connect to agents: %w", err)
	}
	if err := coord.StartInitialWorkers(ctx); err != nil {
		return err
	}
	return coord.Serve(ctx)
}

// remote sends op and prints the result
func (a *App) remote(cmd *cobra.Command, op protocol.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	response, err := a.send(ctx, op)
	if err != nil {
		return err
	}
	return output.NewFormatter(true, a.flags.JSONOutput).WriteResult(a.stdout, response, a.flags.AllParts)
}

func (a *App) sendToCoordinator(ctx context.Context, op protocol.Operation) (*protocol.Response, error) {
	settings, err := config.LoadRemoteSettings()
	if err != nil {
		return nil, err
	}

	addr := settings.Address()
	if a.flags.Coordinator != "" {
		addr = a.flags.Coordinator
	}
	timeout := settings.Timeout
	if a.flags.Timeout > 0 {
		timeout = a.flags.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a.logger.Debug("sending operation", zap.String("kind", string(op.Kind())), zap.String("coordinator", addr))
	return protocol.NewClient(addr).Send(ctx, op)
}
