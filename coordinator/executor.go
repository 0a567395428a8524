package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadsim/address"
	"loadsim/layout"
	"loadsim/output"
	"loadsim/protocol"
	"loadsim/registry"
	"loadsim/ssh"
	"loadsim/store"
	"loadsim/worker"
)

// Handle executes one remote operation. It implements protocol.Handler.
func (c *Coordinator) Handle(ctx context.Context, op protocol.Operation) *protocol.Response {
	c.logger.Debug("handling operation", zap.String("kind", string(op.Kind())))

	switch op := op.(type) {
	case protocol.Install:
		return c.install(ctx, op)
	case protocol.Download:
		return c.download(ctx)
	case protocol.PrintLayout:
		return c.printLayout()
	case protocol.StopCoordinator:
		c.stop()
		return protocol.NewResponse(protocol.SuccessPart(address.Coordinator(), "coordinator stopping"))
	case protocol.TestRun:
		return c.testRun(ctx, op)
	case protocol.TestStatus:
		return c.testStatus(ctx, op)
	case protocol.TestStop:
		return c.testStop(ctx, op)
	case protocol.WorkerKill:
		return c.workerKill(ctx, op)
	case protocol.WorkerScript:
		return c.workerScript(ctx, op)
	case protocol.WorkerStart:
		return c.workerStart(ctx, op)
	}
	return coordinatorError(protocol.ErrUnsupported, fmt.Sprintf("unsupported operation %s", op.Kind()))
}

func coordinatorError(kind protocol.PartType, message string) *protocol.Response {
	return protocol.NewResponse(protocol.ErrorPart(address.Coordinator(), kind, message))
}

// fanOut runs task once per source and collects one part per source in
// arrival order. Sources that did not answer before ctx ended get a
// timeout part.
func (c *Coordinator) fanOut(ctx context.Context, sources []address.Address, task func(context.Context, address.Address) protocol.Part) *protocol.Response {
	collector := protocol.NewCollector(len(sources))

	go func() {
		var g errgroup.Group
		c.limit(&g)
		for _, source := range sources {
			g.Go(func() error {
				collector.Add(task(ctx, source))
				return nil
			})
		}
		g.Wait()
	}()

	response, err := collector.Wait(ctx)
	if err == nil {
		return response
	}

	answered := make(map[address.Address]bool, len(response.Parts))
	for _, part := range response.Parts {
		answered[part.Source] = true
	}
	for _, source := range sources {
		if !answered[source] {
			response.Parts = append(response.Parts, protocol.ErrorPart(source, protocol.ErrTimeout, err.Error()))
		}
	}
	return response
}

// runOnAgent executes command on the agent of source and turns the
// outcome into source's part
func (c *Coordinator) runOnAgent(ctx context.Context, source address.Address, command string) protocol.Part {
	state, err := c.agent(source)
	if err != nil {
		return protocol.ErrorPart(source, protocol.ErrAgentNotFound, err.Error())
	}

	result, err := state.conn.ExecuteCommand(ctx, command)
	return commandPart(ctx, source, result, err)
}

func commandPart(ctx context.Context, source address.Address, result *ssh.Result, err error) protocol.Part {
	if err != nil {
		if ctx.Err() != nil {
			return protocol.ErrorPart(source, protocol.ErrTimeout, err.Error())
		}
		return protocol.ErrorPart(source, protocol.ErrException, err.Error())
	}
	if result.Failed() {
		return protocol.ErrorPart(source, protocol.ErrException, exitText(result))
	}
	return protocol.SuccessPart(source, strings.TrimSpace(result.Output))
}

func (c *Coordinator) install(ctx context.Context, op protocol.Install) *protocol.Response {
	command, err := c.commands.Install(op.VersionSpec)
	if err != nil {
		return coordinatorError(protocol.ErrException, err.Error())
	}

	c.logger.Info("installing", zap.String("version_spec", op.VersionSpec))
	return c.fanOut(ctx, c.agentAddresses(), func(ctx context.Context, agent address.Address) protocol.Part {
		return c.runOnAgent(ctx, agent, command)
	})
}

// download stores the artifacts of every agent as <dir>/<agent>.tar.zst
func (c *Coordinator) download(ctx context.Context) *protocol.Response {
	dir := c.config.Coordinator.DownloadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return coordinatorError(protocol.ErrException, fmt.Sprintf("failed to create download directory: %v", err))
	}

	command, err := c.commands.Download()
	if err != nil {
		return coordinatorError(protocol.ErrException, err.Error())
	}

	return c.fanOut(ctx, c.agentAddresses(), func(ctx context.Context, agent address.Address) protocol.Part {
		path := filepath.Join(dir, agent.String()+".tar.zst")
		if err := c.downloadTo(ctx, agent, command, path); err != nil {
			if ctx.Err() != nil {
				return protocol.ErrorPart(agent, protocol.ErrTimeout, err.Error())
			}
			return protocol.ErrorPart(agent, protocol.ErrException, err.Error())
		}
		c.logger.Info("downloaded artifacts", zap.Stringer("agent", agent), zap.String("path", path))
		return protocol.SuccessPart(agent, path)
	})
}

func (c *Coordinator) downloadTo(ctx context.Context, agent address.Address, command, path string) (err error) {
	state, err := c.agent(agent)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	if err := state.conn.StreamCommand(ctx, command, encoder); err != nil {
		encoder.Close()
		return fmt.Errorf("download from %s failed: %w", agent, err)
	}
	return encoder.Close()
}

func (c *Coordinator) printLayout() *protocol.Response {
	c.mu.RLock()
	views := make([]output.AgentView, 0, len(c.agents))
	for _, agent := range c.registry.Agents() {
		view := output.AgentView{
			Agent:   agent,
			Workers: c.registry.WorkersOn(agent.Address),
		}
		if state, ok := c.agents[agent.Address.AgentIndex()]; ok {
			view.Info = state.info
		}
		views = append(views, view)
	}
	c.mu.RUnlock()

	var b bytes.Buffer
	if err := output.NewFormatter(false, false).WriteLayout(&b, views); err != nil {
		return coordinatorError(protocol.ErrException, err.Error())
	}
	return protocol.NewResponse(protocol.SuccessPart(address.Coordinator(), b.String()))
}

func (c *Coordinator) workerKill(ctx context.Context, op protocol.WorkerKill) *protocol.Response {
	workers := c.registry.Query(op.Query)
	if len(workers) == 0 {
		return coordinatorError(protocol.ErrWorkerNotFound, "no workers match the query")
	}
	c.logger.Info("killing workers", zap.Int("workers", len(workers)), zap.String("command", op.Command))
	return c.killWorkers(ctx, workers, op.Command)
}

func (c *Coordinator) workerScript(ctx context.Context, op protocol.WorkerScript) *protocol.Response {
	workers := c.registry.Query(op.Query)
	if len(workers) == 0 {
		return coordinatorError(protocol.ErrWorkerNotFound, "no workers match the query")
	}
	return c.runScripts(ctx, workers, op.Command)
}

// workerStart places the requested workers with the layout planner, or
// on the requested agent, and starts them agent by agent in parallel
func (c *Coordinator) workerStart(ctx context.Context, op protocol.WorkerStart) *protocol.Response {
	role, err := worker.RoleFor(op.WorkerType)
	if err != nil {
		return coordinatorError(protocol.ErrInvalidParameters, err.Error())
	}

	counts := make(map[address.Address]int)
	var agents []address.Address
	if op.Agent != nil {
		if _, err := c.registry.Agent(*op.Agent); err != nil {
			return protocol.NewResponse(protocol.ErrorPart(*op.Agent, protocol.ErrAgentNotFound, err.Error()))
		}
		agents = append(agents, *op.Agent)
		counts[*op.Agent] = op.Count
	} else {
		params := layout.Parameters{DedicatedMemberMachines: c.config.Placement.DedicatedMemberMachines}
		if role == layout.RoleClient {
			params.ClientWorkers = op.Count
		} else {
			params.MemberWorkers = op.Count
		}
		layouts, err := layout.Plan(c.registry.LayoutAgents(), params)
		if err != nil {
			return coordinatorError(protocol.ErrInvalidParameters, err.Error())
		}
		for _, l := range layouts {
			if n := l.Count(role); n > 0 {
				agent := address.Agent(l.AgentIndex)
				agents = append(agents, agent)
				counts[agent] = n
			}
		}
	}

	opts := startOptions{
		VersionSpec: op.VersionSpec,
		VMOptions:   op.VMOptions,
		Config:      op.Config,
	}
	return c.fanOut(ctx, agents, func(ctx context.Context, agent address.Address) protocol.Part {
		started, err := c.startWorkers(ctx, agent, op.WorkerType, counts[agent], opts)
		names := make([]string, len(started))
		for i, w := range started {
			names[i] = w.Address.String()
		}
		if err != nil {
			message := err.Error()
			if len(names) > 0 {
				message += " (started " + strings.Join(names, ",") + ")"
			}
			return protocol.ErrorPart(agent, protocol.ErrException, message)
		}
		return protocol.SuccessPart(agent, strings.Join(names, ","))
	})
}

// testRun registers the tests of the suite on the target workers and
// runs them. Without WaitForCompletion the test addresses are returned
// right away and the suite keeps running in the background.
func (c *Coordinator) testRun(ctx context.Context, op protocol.TestRun) *protocol.Response {
	suite := op.Suite
	if suite.ID == "" {
		suite.ID = c.now().Format("2006-01-02__15_04_05")
	}

	targets, err := c.registry.TargetWorkers(suite.TargetType, suite.TargetCount)
	if err != nil {
		kind := protocol.ErrInvalidParameters
		if errors.Is(err, registry.ErrNoWorkers) {
			kind = protocol.ErrWorkerNotFound
		}
		return coordinatorError(kind, err.Error())
	}

	targetAddrs := workerAddresses(targets)
	targetNames := make([]string, len(targetAddrs))
	for i, addr := range targetAddrs {
		targetNames[i] = addr.String()
	}
	tests := c.registry.AddTests(suite, targetAddrs)
	for _, test := range tests {
		err := c.store.RecordStarted(ctx, store.Record{
			Index:   test.Address.TestIndex(),
			Address: test.Address.String(),
			SuiteID: suite.ID,
			TestID:  test.Case.ID,
			Class:   test.Case.Class,
			Workers: targetNames,
		})
		if err != nil {
			for _, t := range tests {
				c.registry.RemoveTest(t.Address)
			}
			return coordinatorError(protocol.ErrException, err.Error())
		}
	}

	c.logger.Info("running test suite",
		zap.String("suite", suite.ID),
		zap.Int("tests", len(tests)),
		zap.Int("workers", len(targets)),
		zap.Bool("parallel", suite.Parallel))

	if op.WaitForCompletion {
		return protocol.NewResponse(c.runSuite(ctx, suite, tests)...)
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.runSuite(c.workerCtx, suite, tests)
	}()

	parts := make([]protocol.Part, len(tests))
	for i, test := range tests {
		parts[i] = protocol.SuccessPart(address.Coordinator(), test.Address.String())
	}
	return protocol.NewResponse(parts...)
}

// runSuite returns one part per test in suite order, all reported by the
// coordinator. Sequential suites with FailFast skip the tests after the
// first failure.
func (c *Coordinator) runSuite(ctx context.Context, suite protocol.TestSuite, tests []registry.Test) []protocol.Part {
	parts := make([]protocol.Part, len(tests))

	if suite.Parallel {
		var g errgroup.Group
		for i, test := range tests {
			g.Go(func() error {
				parts[i] = c.runTest(ctx, suite, test)
				return nil
			})
		}
		g.Wait()
		return parts
	}

	failed := false
	for i, test := range tests {
		if failed && suite.FailFast {
			const reason = "skipped after an earlier test failed"
			c.finishTest(test, store.StatusStopped, reason)
			parts[i] = protocol.ErrorPart(address.Coordinator(), protocol.ErrException, test.Address.String()+": "+reason)
			continue
		}
		parts[i] = c.runTest(ctx, suite, test)
		failed = failed || parts[i].Type.IsError()
	}
	return parts
}

func (c *Coordinator) runTest(ctx context.Context, suite protocol.TestSuite, test registry.Test) protocol.Part {
	logger := c.logger.With(zap.Stringer("test", test.Address), zap.String("class", test.Case.Class))
	logger.Info("test started", zap.Int("workers", len(test.Workers)))

	response := c.fanOut(ctx, test.Workers, func(ctx context.Context, w address.Address) protocol.Part {
		command, err := c.commands.TestRun(suite, test, w)
		if err != nil {
			return protocol.ErrorPart(w, protocol.ErrException, err.Error())
		}
		return c.runOnAgent(ctx, w, command)
	})

	status, message := store.StatusCompleted, ""
	if part, found := response.FirstErrorPart(); found {
		status = store.StatusFailed
		message = fmt.Sprintf("%s %s: %s", part.Source, part.Type, part.PayloadText())
	}
	record := c.finishTest(test, status, message)

	if record.Status == store.StatusFailed {
		logger.Warn("test failed", zap.String("error", record.Error))
		return protocol.ErrorPart(address.Coordinator(), protocol.ErrException, test.Address.String()+": "+record.Error)
	}
	logger.Info("test finished", zap.String("status", string(record.Status)))
	return protocol.SuccessPart(address.Coordinator(), string(record.Status))
}

// finishTest unregisters test and stores its final status. A status set
// earlier, e.g. by test-stop, wins.
func (c *Coordinator) finishTest(test registry.Test, status store.Status, message string) store.Record {
	c.registry.RemoveTest(test.Address)

	ctx := context.Background()
	index := test.Address.TestIndex()
	if err := c.store.UpdateStatus(ctx, index, status, message); err != nil {
		c.logger.Error("failed to store test status", zap.Stringer("test", test.Address), zap.Error(err))
	}
	record, err := c.store.Get(ctx, index)
	if err != nil {
		return store.Record{Index: index, Status: status, Error: message}
	}
	return record
}

// testNotFound is the answer for a test address that names no test of
// this session
func testNotFound(test address.Address) *protocol.Response {
	return coordinatorError(protocol.ErrTestNotFound, fmt.Sprintf("test %s not found", test))
}

// ranOn reports whether the agent and worker parts of pattern select at
// least one of workers. Wildcard parts select every worker.
func ranOn(pattern address.Address, workers []string) bool {
	if pattern.AgentComponent().IsWildcard() && pattern.WorkerComponent().IsWildcard() {
		return true
	}
	for _, name := range workers {
		w, err := address.Parse(name)
		if err != nil {
			continue
		}
		if address.Matches(pattern.Parent(), w) {
			return true
		}
	}
	return false
}

// testStatus reports the stored status of one test. Concrete agent or
// worker parts must name a worker that ran the test.
func (c *Coordinator) testStatus(ctx context.Context, op protocol.TestStatus) *protocol.Response {
	if op.Test.TestComponent().IsWildcard() {
		return coordinatorError(protocol.ErrInvalidParameters, fmt.Sprintf("%s does not name a single test", op.Test))
	}

	record, err := c.store.Get(ctx, op.Test.TestIndex())
	if errors.Is(err, store.ErrNotFound) {
		return testNotFound(op.Test)
	}
	if err != nil {
		return coordinatorError(protocol.ErrException, err.Error())
	}
	if !ranOn(op.Test, record.Workers) {
		return testNotFound(op.Test)
	}

	status := string(record.Status)
	if record.Error != "" {
		status += ": " + record.Error
	}
	return protocol.NewResponse(protocol.SuccessPart(address.Coordinator(), status))
}

// testStop asks the workers of the test selected by the address to end
// their current phase. The test is marked stopped once all its workers
// are asked.
func (c *Coordinator) testStop(ctx context.Context, op protocol.TestStop) *protocol.Response {
	if op.Test.TestComponent().IsWildcard() {
		return coordinatorError(protocol.ErrInvalidParameters, fmt.Sprintf("%s does not name a single test", op.Test))
	}

	test, ok := c.registry.Test(op.Test)
	if !ok {
		record, err := c.store.Get(ctx, op.Test.TestIndex())
		if err == nil && record.Status.Finished() && ranOn(op.Test, record.Workers) {
			return protocol.NewResponse(protocol.SuccessPart(address.Coordinator(), "already "+string(record.Status)))
		}
		return testNotFound(op.Test)
	}

	var workers []address.Address
	for _, w := range test.Workers {
		if address.Matches(op.Test.Parent(), w) {
			workers = append(workers, w)
		}
	}
	if len(workers) == 0 {
		return testNotFound(op.Test)
	}

	if len(workers) == len(test.Workers) {
		if err := c.store.UpdateStatus(ctx, test.Address.TestIndex(), store.StatusStopped, ""); err != nil {
			c.logger.Error("failed to store test status", zap.Stringer("test", test.Address), zap.Error(err))
		}
	}
	c.logger.Info("stopping test", zap.Stringer("test", test.Address), zap.Int("workers", len(workers)))

	return c.fanOut(ctx, workers, func(ctx context.Context, w address.Address) protocol.Part {
		command, err := c.commands.TestStop(test, w)
		if err != nil {
			return protocol.ErrorPart(w, protocol.ErrException, err.Error())
		}
		return c.runOnAgent(ctx, w, command)
	})
}
