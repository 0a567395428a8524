package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadsim/address"
	"loadsim/protocol"
	"loadsim/registry"
	"loadsim/shutdown"
	"loadsim/ssh"
	"loadsim/worker"
)

// pidFileTimeout bounds the wait for a started worker to write its pid file.
const pidFileTimeout = 30 * time.Second

// startWorkers starts count workers of workerType on agent one after
// another. On error the workers started so far are returned with it.
func (c *Coordinator) startWorkers(ctx context.Context, agent address.Address, workerType string, count int, opts startOptions) ([]registry.Worker, error) {
	started := make([]registry.Worker, 0, count)
	for range count {
		w, err := c.startWorker(ctx, agent, workerType, opts)
		if err != nil {
			return started, err
		}
		started = append(started, w)
	}
	return started, nil
}

func (c *Coordinator) startWorker(ctx context.Context, agent address.Address, workerType string, opts startOptions) (registry.Worker, error) {
	state, err := c.agent(agent)
	if err != nil {
		return registry.Worker{}, err
	}

	launcher, err := worker.CreateWithPath(workerType, c.config.GetBinaryPath(workerType))
	if err != nil {
		return registry.Worker{}, fmt.Errorf("%w, available: %s", err, strings.Join(worker.GetRegistered(), ", "))
	}

	if opts.VersionSpec == "" {
		opts.VersionSpec = c.config.Workers.VersionSpec
	}
	if opts.VMOptions == "" {
		opts.VMOptions = c.config.Workers.VMOptions
	}

	w, err := c.registry.AddWorker(agent, workerType, launcher.Role(), opts.VersionSpec)
	if err != nil {
		return registry.Worker{}, err
	}

	spec := worker.Spec{
		Address:     w.Address,
		Home:        c.config.Workers.Home,
		VersionSpec: opts.VersionSpec,
		VMOptions:   opts.VMOptions,
		Config:      opts.Config,
		Env:         c.config.Workers.Env,
	}
	if err := launcher.Validate(spec); err != nil {
		c.registry.RemoveWorker(w.Address)
		return registry.Worker{}, err
	}

	logger := c.logger.With(zap.Stringer("worker", w.Address), zap.String("type", workerType))
	command := launcher.BuildCommand(spec)
	logger.Debug("starting worker", zap.String("command", command))

	results, err := state.conn.ExecuteCommandAsync(c.workerCtx, command)
	if err != nil {
		c.registry.RemoveWorker(w.Address)
		return registry.Worker{}, fmt.Errorf("failed to start worker %s: %w", w.Address, err)
	}

	handle := &workerHandle{worker: w, exited: make(chan struct{})}
	c.mu.Lock()
	c.handles[w.Address] = handle
	c.mu.Unlock()

	c.monitors.Add(1)
	go c.monitor(handle, results)

	if err := c.awaitPidFile(ctx, state.conn, handle); err != nil {
		return w, err
	}

	logger.Info("worker started", zap.String("agent", state.agent.PublicAddress))
	return w, nil
}

// monitor waits for the worker session to end. The worker then leaves
// the registry and joins the termination set.
func (c *Coordinator) monitor(handle *workerHandle, results <-chan *ssh.Result) {
	defer c.monitors.Done()

	result := <-results
	if result == nil {
		result = &ssh.Result{Error: "session ended without result"}
	}
	handle.result = result

	addr := handle.worker.Address
	c.registry.RemoveWorker(addr)
	c.terminated.Add(addr.String())
	close(handle.exited)

	if result.Failed() && c.workerCtx.Err() == nil {
		c.logger.Warn("worker exited",
			zap.Stringer("worker", addr),
			zap.Int("exit_code", result.ExitCode),
			zap.String("error", result.Error))
		return
	}
	c.logger.Info("worker terminated", zap.Stringer("worker", addr))
}

// awaitPidFile polls until the worker wrote its pid file, so that
// scripts sent right after the start find the process.
func (c *Coordinator) awaitPidFile(ctx context.Context, conn AgentConn, handle *workerHandle) error {
	ctx, cancel := context.WithTimeout(ctx, pidFileTimeout)
	defer cancel()

	check := c.commands.PidFileCheck(handle.worker.Address)
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	for {
		result, err := conn.ExecuteCommand(ctx, check)
		if err == nil && !result.Failed() {
			return nil
		}

		select {
		case <-handle.exited:
			return fmt.Errorf("worker %s exited during startup: %s", handle.worker.Address, exitText(handle.result))
		case <-ctx.Done():
			return fmt.Errorf("worker %s did not write its pid file: %w", handle.worker.Address, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) pollInterval() time.Duration {
	if c.config.Coordinator.PollInterval > 0 {
		return c.config.Coordinator.PollInterval
	}
	return time.Second
}

func (c *Coordinator) handle(addr address.Address) (*workerHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[addr]
	return h, ok
}

// runScripts executes script against every worker, one part per worker
func (c *Coordinator) runScripts(ctx context.Context, workers []registry.Worker, script string) *protocol.Response {
	return c.fanOut(ctx, workerAddresses(workers), func(ctx context.Context, w address.Address) protocol.Part {
		command, err := c.commands.Script(w, script)
		if err != nil {
			return protocol.ErrorPart(w, protocol.ErrException, err.Error())
		}
		return c.runOnAgent(ctx, w, command)
	})
}

// killWorkers sends the kill script to workers and waits until their
// sessions ended. Workers still alive after the shutdown timeout get a
// timeout part.
func (c *Coordinator) killWorkers(ctx context.Context, workers []registry.Worker, script string) *protocol.Response {
	response := c.runScripts(ctx, workers, script)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	killed := shutdown.NewCompletionSet()
	expected := 0
	for _, part := range response.Parts {
		if part.Type.IsError() {
			continue
		}
		handle, ok := c.handle(part.Source)
		if !ok {
			continue
		}
		expected++
		go func() {
			select {
			case <-handle.exited:
				killed.Add(part.Source.String())
			case <-waitCtx.Done():
			}
		}()
	}

	err := shutdown.WaitForCompletion(ctx, expected, killed, shutdown.Options{
		PollInterval: c.config.Coordinator.PollInterval,
		Timeout:      c.config.Coordinator.ShutdownTimeout,
	})
	if err == nil {
		return response
	}

	c.logger.Warn("killed workers did not terminate", zap.Error(err))
	for i, part := range response.Parts {
		if !part.Type.IsError() && !killed.Contains(part.Source.String()) {
			response.Parts[i] = protocol.ErrorPart(part.Source, protocol.ErrTimeout, err.Error())
		}
	}
	return response
}

func workerAddresses(workers []registry.Worker) []address.Address {
	addrs := make([]address.Address, len(workers))
	for i, w := range workers {
		addrs[i] = w.Address
	}
	return addrs
}

func exitText(result *ssh.Result) string {
	if result == nil {
		return "unknown"
	}
	text := strings.TrimSpace(result.Output)
	if result.Error != "" {
		if text != "" {
			text += ": "
		}
		text += result.Error
	}
	if text == "" {
		text = fmt.Sprintf("exit code %d", result.ExitCode)
	}
	return text
}
