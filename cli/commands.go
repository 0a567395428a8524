package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"loadsim/address"
	"loadsim/config"
	"loadsim/protocol"
)

// oomeScript fills the worker heap until it dies with an OutOfMemoryError
const oomeScript = "js:var list = new java.util.ArrayList();" +
	" while (true) { list.add(java.lang.reflect.Array.newInstance(java.lang.Byte.TYPE, 100 * 1000 * 1000)); }"

// scriptAliases are shorthands accepted wherever a worker script is
// expected
var scriptAliases = map[string]string{
	"System.exit": "js:java.lang.System.exit(0);",
	"OOME":        oomeScript,
}

func expandAlias(script string) string {
	if expanded, ok := scriptAliases[script]; ok {
		return expanded
	}
	return script
}

func (a *App) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <version-spec>",
		Short: "Install a software version on all agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote(cmd, protocol.Install{VersionSpec: args[0]})
		},
	}
}

func (a *App) downloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the worker artifacts of all agents to the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote(cmd, protocol.Download{})
		},
	}
}

func (a *App) printLayoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "print-layout",
		Short: "Print the agents and their workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote(cmd, protocol.PrintLayout{})
		},
	}
}

func (a *App) stopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the coordinator and all its workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remote(cmd, protocol.StopCoordinator{})
		},
	}
}

func (a *App) testRunCommand(name string, wait bool) *cobra.Command {
	var flags suiteFlags
	short := "Run a test suite and wait for its completion"
	if !wait {
		short = "Start a test suite and print the test addresses"
	}
	cmd := &cobra.Command{
		Use:   name + " [suite-file]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.DefaultTestSuiteFile
			if len(args) == 1 {
				file = args[0]
			}
			suite, err := config.LoadTestSuite(file)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd.Flags(), suite); err != nil {
				return err
			}
			return a.remote(cmd, protocol.TestRun{Suite: *suite, WaitForCompletion: wait})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// apply overrides the suite settings with the flags set on the command
// line; the suite file wins for flags left at their defaults
func (f *suiteFlags) apply(set *pflag.FlagSet, suite *protocol.TestSuite) error {
	if set.Changed("duration") {
		duration, err := config.ParseDuration(f.duration)
		if err != nil {
			return fmt.Errorf("invalid --duration: %w", err)
		}
		suite.DurationSeconds = int(duration.Seconds())
	}
	if set.Changed("warmup") {
		warmup, err := config.ParseDuration(f.warmup)
		if err != nil {
			return fmt.Errorf("invalid --warmup: %w", err)
		}
		suite.WarmupSeconds = int(warmup.Seconds())
	}
	if set.Changed("targetType") {
		targetType, err := protocol.ParseTargetType(f.targetType)
		if err != nil {
			return err
		}
		suite.TargetType = targetType
	}
	if set.Changed("targetCount") {
		if f.targetCount < 0 {
			return errors.New("--targetCount can't be negative")
		}
		suite.TargetCount = f.targetCount
	}
	if set.Changed("parallel") {
		suite.Parallel = f.parallel
	}
	if set.Changed("verify") {
		suite.Verify = f.verify
	}
	if set.Changed("failFast") {
		suite.FailFast = f.failFast
	}
	return nil
}

func (a *App) testStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-status <test-address>",
		Short: "Print the status of a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := address.ParseAtLevel(args[0], address.LevelTest)
			if err != nil {
				return err
			}
			return a.remote(cmd, protocol.TestStatus{Test: test})
		},
	}
}

func (a *App) testStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-stop <test-address>",
		Short: "Stop the warmup or run phase of a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := address.ParseAtLevel(args[0], address.LevelTest)
			if err != nil {
				return err
			}
			return a.remote(cmd, protocol.TestStop{Test: test})
		},
	}
}

func (a *App) workerKillCommand() *cobra.Command {
	var filter filterFlags
	var command string
	cmd := &cobra.Command{
		Use:   "worker-kill",
		Short: "Kill workers",
		Long:  "Kill the selected workers with a script. The aliases System.exit and OOME name the usual ways to make a worker die.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := filter.query()
			if err != nil {
				return err
			}
			if query.MaxCount < 1 {
				return errors.New("--maxCount can't be smaller than 1")
			}
			return a.remote(cmd, protocol.WorkerKill{Command: expandAlias(command), Query: query})
		},
	}
	cmd.Flags().StringVar(&command, "command", "System.exit", "Script killing the worker: an alias, js:<script> or bash:<script>")
	filter.register(cmd.Flags(), 1)
	return cmd
}

func (a *App) workerScriptCommand() *cobra.Command {
	var filter filterFlags
	cmd := &cobra.Command{
		Use:   "worker-script <script>",
		Short: "Execute a script on workers",
		Long:  "Execute js:<script> inside the selected workers or bash:<script> on their agents. In bash scripts $PID is the worker process id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := filter.query()
			if err != nil {
				return err
			}
			return a.remote(cmd, protocol.WorkerScript{Command: expandAlias(args[0]), Query: query})
		},
	}
	filter.register(cmd.Flags(), 0)
	return cmd
}

// query turns the filter flags into a worker query, rejecting malformed
// and contradictory filters
func (f *filterFlags) query() (protocol.WorkerQuery, error) {
	q := protocol.WorkerQuery{
		WorkerType:  f.workerType,
		VersionSpec: f.versionSpec,
		MaxCount:    f.maxCount,
		Random:      f.random,
	}
	if f.agent != "" && f.worker != "" {
		return q, protocol.ErrContradictoryQuery
	}
	if f.agent != "" {
		agent, err := address.ParseAtLevel(f.agent, address.LevelAgent)
		if err != nil {
			return q, err
		}
		q.Agent = &agent
	}
	if f.worker != "" {
		worker, err := address.ParseAtLevel(f.worker, address.LevelWorker)
		if err != nil {
			return q, err
		}
		q.Worker = &worker
	}
	if f.maxCount < 0 {
		return q, errors.New("--maxCount can't be negative")
	}
	return q, nil
}

func (a *App) workerStartCommand() *cobra.Command {
	var flags workerStartFlags
	cmd := &cobra.Command{
		Use:   "worker-start",
		Short: "Start workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := flags.operation()
			if err != nil {
				return err
			}
			return a.remote(cmd, op)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func (f *workerStartFlags) operation() (protocol.WorkerStart, error) {
	op := protocol.WorkerStart{
		Count:       f.count,
		WorkerType:  f.workerType,
		VersionSpec: f.versionSpec,
		VMOptions:   f.vmOptions,
	}
	if f.count < 1 {
		return op, errors.New("--count can't be smaller than 1")
	}
	if f.agent != "" {
		agent, err := address.ParseAtLevel(f.agent, address.LevelAgent)
		if err != nil {
			return op, err
		}
		op.Agent = &agent
	}
	if f.configFile != "" {
		data, err := os.ReadFile(f.configFile)
		if err != nil {
			return op, fmt.Errorf("failed to read worker config: %w", err)
		}
		op.Config = string(data)
	}
	return op, nil
}
