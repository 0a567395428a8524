// Package registry tracks the agents, workers and tests a coordinator
// manages and evaluates worker queries against them.
package registry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"loadsim/address"
	"loadsim/layout"
	"loadsim/protocol"
)

var (
	// ErrNoWorkers is returned when no registered worker matches.
	ErrNoWorkers = errors.New("no workers running")

	// ErrAgentNotFound is returned for an agent address that is not registered.
	ErrAgentNotFound = errors.New("agent not found")
)

// Agent is a registered agent machine.
type Agent struct {
	Address        address.Address
	PublicAddress  string
	PrivateAddress string
}

// Worker is a running worker process.
type Worker struct {
	Address     address.Address
	Type        string
	Role        layout.Role
	VersionSpec string
	StartedAt   time.Time
}

// Test is one test case of a running suite. Address has wildcard agent
// and worker components: the test runs on every targeted worker.
type Test struct {
	Address address.Address
	SuiteID string
	Case    protocol.TestCase
	Workers []address.Address
}

// Registry is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	agents     []Agent
	workers    map[address.Address]Worker
	nextWorker map[int]int
	tests      map[int]Test
	nextTest   int
	shuffle    func(n int, swap func(i, j int))
	now        func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		workers:    make(map[address.Address]Worker),
		nextWorker: make(map[int]int),
		tests:      make(map[int]Test),
		shuffle:    rand.Shuffle,
		now:        time.Now,
	}
}

// AddAgent registers an agent and assigns it the next agent index.
// Registration order is the order the layout planner sees.
func (r *Registry) AddAgent(publicAddress, privateAddress string) Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if privateAddress == "" {
		privateAddress = publicAddress
	}
	agent := Agent{
		Address:        address.Agent(len(r.agents) + 1),
		PublicAddress:  publicAddress,
		PrivateAddress: privateAddress,
	}
	r.agents = append(r.agents, agent)
	return agent
}

// Agents returns the agents in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Agent(nil), r.agents...)
}

// Agent returns the agent at addr.
func (r *Registry) Agent(addr address.Address) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentLocked(addr)
}

func (r *Registry) agentLocked(addr address.Address) (Agent, error) {
	if addr.Level() != address.LevelAgent || !addr.IsConcrete() {
		return Agent{}, fmt.Errorf("%s is not an agent address", addr)
	}
	i := addr.AgentIndex()
	if i < 1 || i > len(r.agents) {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, addr)
	}
	return r.agents[i-1], nil
}

// LayoutAgents returns the agents in the form the layout planner takes.
func (r *Registry) LayoutAgents() []layout.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]layout.Agent, len(r.agents))
	for i, a := range r.agents {
		agents[i] = layout.Agent{
			Index:          a.Address.AgentIndex(),
			PublicAddress:  a.PublicAddress,
			PrivateAddress: a.PrivateAddress,
		}
	}
	return agents
}

// AddWorker registers a new worker on agent and assigns it the agent's
// next worker index. Worker indexes are never reused.
func (r *Registry) AddWorker(agent address.Address, workerType string, role layout.Role, versionSpec string) (Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.agentLocked(agent); err != nil {
		return Worker{}, err
	}
	agentIndex := agent.AgentIndex()
	r.nextWorker[agentIndex]++

	w := Worker{
		Address:     address.Worker(agentIndex, r.nextWorker[agentIndex]),
		Type:        workerType,
		Role:        role,
		VersionSpec: versionSpec,
		StartedAt:   r.now(),
	}
	r.workers[w.Address] = w
	return w, nil
}

// RemoveWorker unregisters a worker. It reports whether the worker was
// registered.
func (r *Registry) RemoveWorker(addr address.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[addr]; !ok {
		return false
	}
	delete(r.workers, addr)
	return true
}

// Worker returns the worker at addr.
func (r *Registry) Worker(addr address.Address) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[addr]
	return w, ok
}

// Workers returns all workers ordered by address.
func (r *Registry) Workers() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(Worker) bool { return true })
}

// WorkerCount returns the number of running workers.
func (r *Registry) WorkerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// WorkersOn returns the workers of one agent ordered by address.
func (r *Registry) WorkersOn(agent address.Address) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(w Worker) bool {
		return w.Address.AgentIndex() == agent.AgentIndex()
	})
}

// FirstWorker returns the worker with the lowest address.
func (r *Registry) FirstWorker() (Worker, error) {
	workers := r.Workers()
	if len(workers) == 0 {
		return Worker{}, ErrNoWorkers
	}
	return workers[0], nil
}

// Query returns the workers matching every predicate of q, ordered by
// address or shuffled when q.Random is set, truncated to q.MaxCount.
func (r *Registry) Query(q protocol.WorkerQuery) []Worker {
	r.mu.RLock()
	matches := r.sortedLocked(func(w Worker) bool {
		if q.Agent != nil && !address.Matches(*q.Agent, w.Address.AgentAddress()) {
			return false
		}
		if q.Worker != nil && !address.Matches(*q.Worker, w.Address) {
			return false
		}
		if q.WorkerType != "" && w.Type != q.WorkerType {
			return false
		}
		if q.VersionSpec != "" && w.VersionSpec != q.VersionSpec {
			return false
		}
		return true
	})
	shuffle := r.shuffle
	r.mu.RUnlock()

	if q.Random {
		shuffle(len(matches), func(i, j int) {
			matches[i], matches[j] = matches[j], matches[i]
		})
	}
	if q.MaxCount > 0 && len(matches) > q.MaxCount {
		matches = matches[:q.MaxCount]
	}
	return matches
}

// TargetWorkers selects the workers that drive the run phase of a test.
// A count of zero selects every eligible worker.
func (r *Registry) TargetWorkers(target protocol.TargetType, count int) ([]Worker, error) {
	workers := r.Workers()
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	byRole := func(role layout.Role) []Worker {
		var selected []Worker
		for _, w := range workers {
			if w.Role == role {
				selected = append(selected, w)
			}
		}
		return selected
	}

	var selected []Worker
	switch target {
	case protocol.TargetAll:
		selected = workers
	case protocol.TargetMember:
		selected = byRole(layout.RoleMember)
	case protocol.TargetClient:
		selected = byRole(layout.RoleClient)
	case protocol.TargetPreferClient, "":
		selected = byRole(layout.RoleClient)
		if len(selected) == 0 {
			selected = byRole(layout.RoleMember)
		}
	default:
		return nil, fmt.Errorf("unknown target type %q", target)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("no %s workers available", target)
	}
	if count > 0 {
		if count > len(selected) {
			return nil, fmt.Errorf("target count %d exceeds the %d available %s workers", count, len(selected), target)
		}
		selected = selected[:count]
	}
	return selected, nil
}

// AddTests registers the cases of suite under consecutive global test
// indexes.
func (r *Registry) AddTests(suite protocol.TestSuite, targets []address.Address) []Test {
	r.mu.Lock()
	defer r.mu.Unlock()

	tests := make([]Test, 0, len(suite.Tests))
	for _, tc := range suite.Tests {
		r.nextTest++
		addr, _ := address.New(address.Any, address.Any, address.Index(r.nextTest))
		test := Test{
			Address: addr,
			SuiteID: suite.ID,
			Case:    tc,
			Workers: append([]address.Address(nil), targets...),
		}
		r.tests[r.nextTest] = test
		tests = append(tests, test)
	}
	return tests
}

// Test returns the test with the index of addr. Both the wildcard form
// and a per-worker instance address resolve to the test.
func (r *Registry) Test(addr address.Address) (Test, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tests[addr.TestIndex()]
	return t, ok
}

// RemoveTest unregisters a finished test.
func (r *Registry) RemoveTest(addr address.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tests, addr.TestIndex())
}

// Tests returns the registered tests ordered by index.
func (r *Registry) Tests() []Test {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tests := make([]Test, 0, len(r.tests))
	for _, t := range r.tests {
		tests = append(tests, t)
	}
	sort.Slice(tests, func(i, j int) bool {
		return tests[i].Address.TestIndex() < tests[j].Address.TestIndex()
	})
	return tests
}

func (r *Registry) sortedLocked(keep func(Worker) bool) []Worker {
	workers := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if keep(w) {
			workers = append(workers, w)
		}
	}
	sort.Slice(workers, func(i, j int) bool {
		return Less(workers[i].Address, workers[j].Address)
	})
	return workers
}

// Less orders addresses by agent, worker and test index.
func Less(a, b address.Address) bool {
	if a.AgentIndex() != b.AgentIndex() {
		return a.AgentIndex() < b.AgentIndex()
	}
	if a.WorkerIndex() != b.WorkerIndex() {
		return a.WorkerIndex() < b.WorkerIndex()
	}
	return a.TestIndex() < b.TestIndex()
}
