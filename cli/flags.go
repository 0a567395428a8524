package cli

import (
	"time"

	"github.com/spf13/pflag"

	"loadsim/config"
	"loadsim/protocol"
)

const (
	defaultConfigFile = "config.yaml"
)

// Flags represents the flags shared by all commands
type Flags struct {
	Verbose     bool
	JSONOutput  bool
	AllParts    bool
	Coordinator string
	Timeout     time.Duration
}

func (f *Flags) register(set *pflag.FlagSet) {
	set.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose logging")
	set.BoolVar(&f.JSONOutput, "json", false, "Output results in JSON format")
	set.BoolVar(&f.AllParts, "parts", false, "Print the result of every responder instead of the summary")
	set.StringVar(&f.Coordinator, "coordinator", "", "Coordinator address host:port (default from LOADSIM_REMOTE_HOST and LOADSIM_REMOTE_PORT)")
	set.DurationVar(&f.Timeout, "timeout", 0, "Timeout of a remote operation (default from LOADSIM_REMOTE_TIMEOUT)")
}

// filterFlags select the workers of worker-kill and worker-script
type filterFlags struct {
	agent       string
	worker      string
	workerType  string
	versionSpec string
	maxCount    int
	random      bool
}

func (f *filterFlags) register(set *pflag.FlagSet, defaultMaxCount int) {
	set.StringVar(&f.agent, "agent", "", "Only workers of this agent, e.g. C_A1")
	set.StringVar(&f.worker, "worker", "", "Only this worker, e.g. C_A1_W2")
	set.StringVar(&f.workerType, "workerType", config.DefaultMemberWorkerType, "Only workers of this type")
	set.StringVar(&f.versionSpec, "versionSpec", "", "Only workers running this version spec")
	set.IntVar(&f.maxCount, "maxCount", defaultMaxCount, "Maximum number of workers selected (0 selects all)")
	set.BoolVar(&f.random, "random", false, "Select random workers instead of the first ones")
}

// suiteFlags override the run settings of a test suite
type suiteFlags struct {
	duration    string
	warmup      string
	targetType  string
	targetCount int
	parallel    bool
	verify      bool
	failFast    bool
}

func (f *suiteFlags) register(set *pflag.FlagSet) {
	set.StringVar(&f.duration, "duration", "60s", "Duration of the run phase, e.g. 90, 5m, 1h or 0 to run until stopped")
	set.StringVar(&f.warmup, "warmup", "0s", "Duration of the warmup phase")
	set.StringVar(&f.targetType, "targetType", string(protocol.TargetPreferClient), "Workers running the test: all, member, client or prefer_client")
	set.IntVar(&f.targetCount, "targetCount", 0, "Number of workers running the test (0 selects all eligible)")
	set.BoolVar(&f.parallel, "parallel", false, "Run the tests of the suite in parallel")
	set.BoolVar(&f.verify, "verify", true, "Verify the test results after the run")
	set.BoolVar(&f.failFast, "failFast", true, "Stop the suite after the first failing test")
}

// workerStartFlags describe the workers of worker-start
type workerStartFlags struct {
	count       int
	workerType  string
	versionSpec string
	vmOptions   string
	configFile  string
	agent       string
}

func (f *workerStartFlags) register(set *pflag.FlagSet) {
	set.IntVar(&f.count, "count", 1, "Number of workers to start")
	set.StringVar(&f.workerType, "workerType", config.DefaultMemberWorkerType, "Type of the workers")
	set.StringVar(&f.versionSpec, "versionSpec", "", "Version spec of the workers (default from the coordinator config)")
	set.StringVar(&f.vmOptions, "vmOptions", "", "JVM options of the workers")
	set.StringVar(&f.configFile, "config", "", "File with the worker configuration")
	set.StringVar(&f.agent, "agent", "", "Start all workers on this agent, e.g. C_A2")
}
