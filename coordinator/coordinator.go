// Package coordinator runs the coordinator session: it connects to the
// agents, starts and tracks workers, runs tests and serves the remote
// operations sent by the control client.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadsim/address"
	"loadsim/config"
	"loadsim/envinfo"
	"loadsim/layout"
	"loadsim/protocol"
	"loadsim/registry"
	"loadsim/shutdown"
	"loadsim/store"
)

// Coordinator manages agents, workers and tests of one session
type Coordinator struct {
	config   *config.Config
	registry *registry.Registry
	store    *store.Store
	commands *CommandBuilder
	logger   *zap.Logger
	dial     Dialer
	now      func() time.Time

	mu      sync.RWMutex
	agents  map[int]*agentState
	handles map[address.Address]*workerHandle

	terminated *shutdown.CompletionSet
	monitors   sync.WaitGroup

	// workerCtx outlives single requests: worker sessions and tests
	// started without waiting end when it is cancelled.
	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	background    sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewCoordinator creates a coordinator for cfg. The configuration must
// have its defaults applied.
func NewCoordinator(cfg *config.Config, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	templates, err := cfg.Commands.Templates()
	if err != nil {
		return nil, fmt.Errorf("invalid command templates: %w", err)
	}

	session := uuid.NewString()
	history, err := store.Open(cfg.Coordinator.HistoryDB, session)
	if err != nil {
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:        cfg,
		registry:      registry.New(),
		store:         history,
		commands:      NewCommandBuilder(cfg.Workers.Home, templates),
		logger:        logger.With(zap.String("session", session)),
		dial:          SSHDialer,
		now:           time.Now,
		agents:        make(map[int]*agentState),
		handles:       make(map[address.Address]*workerHandle),
		terminated:    shutdown.NewCompletionSet(),
		workerCtx:     workerCtx,
		cancelWorkers: cancel,
		stopped:       make(chan struct{}),
	}, nil
}

// SetDialer replaces the ssh dialer used by ConnectAgents
func (c *Coordinator) SetDialer(dial Dialer) {
	c.dial = dial
}

// Registry returns the agents, workers and tests of the session
func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Done is closed once a stop-coordinator operation was received
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

func (c *Coordinator) stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
	})
}

func (c *Coordinator) limit(g *errgroup.Group) {
	if n := c.config.Coordinator.Parallelism; n > 0 {
		g.SetLimit(n)
	}
}

// ConnectAgents establishes connections to all configured agents in
// parallel and registers them in configuration order
func (c *Coordinator) ConnectAgents(ctx context.Context) error {
	agents := c.config.Agents
	conns := make([]AgentConn, len(agents))
	infos := make([]*envinfo.AgentInfo, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	c.limit(g)
	for i, agentConfig := range agents {
		g.Go(func() error {
			conn, err := c.dial(gctx, agentConfig)
			if err != nil {
				return fmt.Errorf("failed to connect to agent %s: %w", agentConfig.PublicAddress, err)
			}
			conns[i] = conn
			c.logger.Info("connected to agent", zap.String("host", agentConfig.PublicAddress))
			infos[i] = c.collectEnvironment(gctx, agentConfig.PublicAddress, conn)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, agentConfig := range agents {
		agent := c.registry.AddAgent(agentConfig.PublicAddress, agentConfig.PrivateAddress)
		c.agents[agent.Address.AgentIndex()] = &agentState{
			agent: agent,
			conn:  conns[i],
			info:  infos[i],
		}
	}
	return nil
}

func (c *Coordinator) collectEnvironment(ctx context.Context, host string, conn AgentConn) *envinfo.AgentInfo {
	collector, err := envinfo.NewRemoteCollector(conn, c.logger)
	if err != nil {
		c.logger.Warn("failed to collect environment", zap.String("host", host), zap.Error(err))
		return nil
	}
	collector.SetEnabledModules(c.config.Coordinator.EnvModules)
	return collector.Collect(ctx)
}

func (c *Coordinator) agent(addr address.Address) (*agentState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.agents[addr.AgentIndex()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrAgentNotFound, addr.AgentAddress())
	}
	return state, nil
}

func (c *Coordinator) agentAddresses() []address.Address {
	agents := c.registry.Agents()
	addrs := make([]address.Address, len(agents))
	for i, a := range agents {
		addrs[i] = a.Address
	}
	return addrs
}

// StartInitialWorkers starts the workers of the configured placement:
// all member workers first, then all client workers
func (c *Coordinator) StartInitialWorkers(ctx context.Context) error {
	placement := c.config.Placement
	layouts, err := layout.Plan(c.registry.LayoutAgents(), layout.Parameters{
		DedicatedMemberMachines: placement.DedicatedMemberMachines,
		MemberWorkers:           placement.MemberWorkers,
		ClientWorkers:           placement.ClientWorkers,
	})
	if err != nil {
		return fmt.Errorf("failed to plan worker layout: %w", err)
	}

	for _, l := range layouts {
		c.logger.Info("planned agent layout", zap.Stringer("layout", l))
	}

	phases := []struct {
		role       layout.Role
		workerType string
	}{
		{layout.RoleMember, placement.MemberWorkerType},
		{layout.RoleClient, placement.ClientWorkerType},
	}
	for _, phase := range phases {
		g, gctx := errgroup.WithContext(ctx)
		for _, l := range layouts {
			count := l.Count(phase.role)
			if count == 0 {
				continue
			}
			g.Go(func() error {
				_, err := c.startWorkers(gctx, address.Agent(l.AgentIndex), phase.workerType, count, startOptions{})
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to start %s workers: %w", phase.role, err)
		}
	}

	c.logger.Info("initial workers started", zap.Int("workers", c.registry.WorkerCount()))
	return nil
}

// Serve answers remote operations on the configured address until ctx
// is cancelled or a stop-coordinator operation arrives
func (c *Coordinator) Serve(ctx context.Context) error {
	server := protocol.NewServer(c.config.Coordinator.Address(), c, c.config.Coordinator.RequestTimeout, c.logger)
	return c.serve(ctx, server)
}

func (c *Coordinator) serve(ctx context.Context, server *protocol.Server) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.stopped:
			c.logger.Info("stop requested")
			cancel()
		case <-serveCtx.Done():
		}
	}()

	return server.Serve(serveCtx)
}

// Shutdown kills all workers, waits for their termination and closes
// the agent connections. Workers still running after the shutdown
// timeout lose their sessions. Only the first call does any work.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.stop()

	var errs []error
	if workers := c.registry.Workers(); len(workers) > 0 {
		c.logger.Info("shutting down workers", zap.Int("workers", len(workers)))
		c.runScripts(ctx, workers, bashPrefix+"kill $PID")

		err := shutdown.WaitForCompletion(ctx, c.startedCount(), c.terminated, shutdown.Options{
			PollInterval: c.config.Coordinator.PollInterval,
			Timeout:      c.config.Coordinator.ShutdownTimeout,
		})
		if err != nil {
			c.logger.Warn("workers did not terminate, closing their sessions", zap.Error(err))
			errs = append(errs, err)
		}
	}

	c.cancelWorkers()
	c.background.Wait()
	c.monitors.Wait()

	c.mu.Lock()
	for index, state := range c.agents {
		if err := state.conn.Close(); err != nil {
			c.logger.Warn("error closing agent connection", zap.Stringer("agent", state.agent.Address), zap.Error(err))
		}
		delete(c.agents, index)
	}
	c.mu.Unlock()

	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) startedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
