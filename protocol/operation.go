// Package protocol defines the remote operations a control client sends to
// the coordinator, the multi-part responses it gets back and the wire
// format carrying both.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"loadsim/address"
)

// Kind names an operation on the wire.
type Kind string

const (
	KindInstall         Kind = "install"
	KindDownload        Kind = "download"
	KindPrintLayout     Kind = "print-layout"
	KindStopCoordinator Kind = "stop-coordinator"
	KindTestRun         Kind = "test-run"
	KindTestStatus      Kind = "test-status"
	KindTestStop        Kind = "test-stop"
	KindWorkerKill      Kind = "worker-kill"
	KindWorkerScript    Kind = "worker-script"
	KindWorkerStart     Kind = "worker-start"
)

// Operation is one remote command. Implementations are plain values and
// are never modified after construction.
type Operation interface {
	Kind() Kind
	Validate() error
	isOperation()
}

// Install installs a software version on all agents.
type Install struct {
	VersionSpec string `cbor:"version_spec"`
}

// Download fetches worker artifacts from all agents.
type Download struct{}

// PrintLayout renders the current agent/worker layout on the coordinator.
type PrintLayout struct{}

// StopCoordinator ends the coordinator session.
type StopCoordinator struct{}

// TestRun runs a test suite. With WaitForCompletion false the coordinator
// returns the test addresses as soon as the tests are started.
type TestRun struct {
	Suite             TestSuite `cbor:"suite"`
	WaitForCompletion bool      `cbor:"wait"`
}

// TestStatus asks for the state of a test.
type TestStatus struct {
	Test address.Address `cbor:"test"`
}

// TestStop asks a test to stop its warmup or run phase.
type TestStop struct {
	Test address.Address `cbor:"test"`
}

// WorkerKill kills the workers selected by Query using Command.
type WorkerKill struct {
	Command string      `cbor:"command"`
	Query   WorkerQuery `cbor:"query"`
}

// WorkerScript executes Command on the workers selected by Query.
type WorkerScript struct {
	Command string      `cbor:"command"`
	Query   WorkerQuery `cbor:"query"`
}

// WorkerStart starts Count workers of WorkerType. Agent, when set, pins
// all of them to one agent; otherwise the layout planner spreads them.
type WorkerStart struct {
	Count       int              `cbor:"count"`
	VersionSpec string           `cbor:"version_spec,omitempty"`
	VMOptions   string           `cbor:"vm_options,omitempty"`
	WorkerType  string           `cbor:"worker_type"`
	Config      string           `cbor:"config,omitempty"`
	Agent       *address.Address `cbor:"agent,omitempty"`
}

func (Install) Kind() Kind         { return KindInstall }
func (Download) Kind() Kind        { return KindDownload }
func (PrintLayout) Kind() Kind     { return KindPrintLayout }
func (StopCoordinator) Kind() Kind { return KindStopCoordinator }
func (TestRun) Kind() Kind         { return KindTestRun }
func (TestStatus) Kind() Kind      { return KindTestStatus }
func (TestStop) Kind() Kind        { return KindTestStop }
func (WorkerKill) Kind() Kind      { return KindWorkerKill }
func (WorkerScript) Kind() Kind    { return KindWorkerScript }
func (WorkerStart) Kind() Kind     { return KindWorkerStart }

func (Install) isOperation()         {}
func (Download) isOperation()        {}
func (PrintLayout) isOperation()     {}
func (StopCoordinator) isOperation() {}
func (TestRun) isOperation()         {}
func (TestStatus) isOperation()      {}
func (TestStop) isOperation()        {}
func (WorkerKill) isOperation()      {}
func (WorkerScript) isOperation()    {}
func (WorkerStart) isOperation()     {}

func (op Install) Validate() error {
	if strings.TrimSpace(op.VersionSpec) == "" {
		return fmt.Errorf("install: version spec is required")
	}
	return nil
}

func (Download) Validate() error        { return nil }
func (PrintLayout) Validate() error     { return nil }
func (StopCoordinator) Validate() error { return nil }

func (op TestRun) Validate() error {
	return op.Suite.Validate()
}

func (op TestStatus) Validate() error {
	return validateTestAddress("test-status", op.Test)
}

func (op TestStop) Validate() error {
	return validateTestAddress("test-stop", op.Test)
}

func validateTestAddress(kind string, a address.Address) error {
	if a.Level() != address.LevelTest {
		return fmt.Errorf("%s: %s is a %s address, not a test address", kind, a, a.Level())
	}
	return nil
}

func (op WorkerKill) Validate() error {
	if op.Command == "" {
		return fmt.Errorf("worker-kill: command is required")
	}
	if op.Query.MaxCount < 1 {
		return fmt.Errorf("worker-kill: max count can't be smaller than 1")
	}
	return op.Query.Validate()
}

func (op WorkerScript) Validate() error {
	if op.Command == "" {
		return fmt.Errorf("worker-script: command is required")
	}
	return op.Query.Validate()
}

func (op WorkerStart) Validate() error {
	if op.Count < 1 {
		return fmt.Errorf("worker-start: count can't be smaller than 1")
	}
	if op.WorkerType == "" {
		return fmt.Errorf("worker-start: worker type is required")
	}
	if op.Agent != nil && op.Agent.Level() != address.LevelAgent {
		return fmt.Errorf("worker-start: %s is a %s address, not an agent address", op.Agent, op.Agent.Level())
	}
	return nil
}

// ErrContradictoryQuery is returned when a worker query names both an
// agent and a worker.
var ErrContradictoryQuery = errors.New("agent and worker filters can't both be set")

// WorkerQuery selects registered workers. All set predicates must hold.
// MaxCount 0 selects every match.
type WorkerQuery struct {
	Agent       *address.Address `cbor:"agent,omitempty"`
	Worker      *address.Address `cbor:"worker,omitempty"`
	WorkerType  string           `cbor:"worker_type,omitempty"`
	VersionSpec string           `cbor:"version_spec,omitempty"`
	MaxCount    int              `cbor:"max_count,omitempty"`
	Random      bool             `cbor:"random,omitempty"`
}

// Validate rejects contradictory or malformed filters.
func (q WorkerQuery) Validate() error {
	if q.Agent != nil && q.Worker != nil {
		return ErrContradictoryQuery
	}
	if q.Agent != nil && q.Agent.Level() != address.LevelAgent {
		return fmt.Errorf("agent filter %s is a %s address", q.Agent, q.Agent.Level())
	}
	if q.Worker != nil && q.Worker.Level() != address.LevelWorker {
		return fmt.Errorf("worker filter %s is a %s address", q.Worker, q.Worker.Level())
	}
	if q.MaxCount < 0 {
		return fmt.Errorf("max count can't be negative")
	}
	return nil
}

// TargetType selects which workers drive the run phase of a test.
type TargetType string

const (
	TargetAll          TargetType = "all"
	TargetMember       TargetType = "member"
	TargetClient       TargetType = "client"
	TargetPreferClient TargetType = "prefer_client"
)

// ParseTargetType accepts the names of the target types.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(strings.ToLower(s)); t {
	case TargetAll, TargetMember, TargetClient, TargetPreferClient:
		return t, nil
	}
	return "", fmt.Errorf("unknown target type %q, allowed: all, member, client, prefer_client", s)
}

// TestCase is one test of a suite.
type TestCase struct {
	ID         string            `cbor:"id" yaml:"id"`
	Class      string            `cbor:"class" yaml:"class"`
	Properties map[string]string `cbor:"properties,omitempty" yaml:"properties,omitempty"`
}

// TestSuite is a set of tests run together.
type TestSuite struct {
	ID              string     `cbor:"id" yaml:"-"`
	Tests           []TestCase `cbor:"tests" yaml:"tests"`
	DurationSeconds int        `cbor:"duration_seconds" yaml:"duration_seconds"`
	WarmupSeconds   int        `cbor:"warmup_seconds" yaml:"warmup_seconds"`
	TargetType      TargetType `cbor:"target_type" yaml:"target_type"`
	TargetCount     int        `cbor:"target_count" yaml:"target_count"`
	Parallel        bool       `cbor:"parallel" yaml:"parallel"`
	Verify          bool       `cbor:"verify" yaml:"verify"`
	FailFast        bool       `cbor:"fail_fast" yaml:"fail_fast"`
}

// Validate checks the suite has runnable tests.
func (s TestSuite) Validate() error {
	if len(s.Tests) == 0 {
		return fmt.Errorf("test suite contains no tests")
	}
	seen := make(map[string]bool, len(s.Tests))
	for i, tc := range s.Tests {
		if tc.Class == "" {
			return fmt.Errorf("test %d: class is required", i)
		}
		if tc.ID != "" {
			if seen[tc.ID] {
				return fmt.Errorf("test %d: duplicate id %q", i, tc.ID)
			}
			seen[tc.ID] = true
		}
	}
	if s.DurationSeconds < 0 || s.WarmupSeconds < 0 {
		return fmt.Errorf("test suite durations can't be negative")
	}
	if s.TargetCount < 0 {
		return fmt.Errorf("target count can't be negative")
	}
	if s.TargetType != "" {
		if _, err := ParseTargetType(string(s.TargetType)); err != nil {
			return err
		}
	}
	return nil
}
