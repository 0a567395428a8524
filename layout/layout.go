// Package layout decides how many member and client workers each agent
// machine runs.
package layout

import (
	"errors"
	"fmt"
)

var (
	// ErrDedicatedExceedsAgents is returned when more dedicated member
	// machines are requested than there are agents.
	ErrDedicatedExceedsAgents = errors.New("dedicated member machine count exceeds agent count")

	// ErrNoClientMachines is returned when every agent is dedicated to
	// members but client workers were requested.
	ErrNoClientMachines = errors.New("no agent machines left to run client workers")

	// ErrNoAgents is returned when workers are requested without agents.
	ErrNoAgents = errors.New("no agents registered")

	// ErrNegativeCount is returned for negative placement parameters.
	ErrNegativeCount = errors.New("placement counts must not be negative")
)

// Role is the placement category of a worker.
type Role int

const (
	RoleMember Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "MEMBER"
	case RoleClient:
		return "CLIENT"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Mode classifies an agent for a single planning call.
type Mode int

const (
	// ModeMixed agents may receive both roles.
	ModeMixed Mode = iota
	// ModeMember agents receive member workers only.
	ModeMember
	// ModeClient agents receive client workers only.
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeMixed:
		return "MIXED"
	case ModeMember:
		return "MEMBER"
	case ModeClient:
		return "CLIENT"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Agent is the planner's view of a registered agent machine.
type Agent struct {
	Index          int
	PublicAddress  string
	PrivateAddress string
}

// Parameters are the placement constraints of one planning call.
type Parameters struct {
	DedicatedMemberMachines int
	MemberWorkers           int
	ClientWorkers           int
}

// AgentLayout is the planned worker count per role for one agent.
type AgentLayout struct {
	AgentIndex    int
	PublicAddress string
	Mode          Mode
	Members       int
	Clients       int
}

// Count returns the planned number of workers of the given role.
func (l AgentLayout) Count(role Role) int {
	if role == RoleClient {
		return l.Clients
	}
	return l.Members
}

// Total returns the planned number of workers of both roles.
func (l AgentLayout) Total() int {
	return l.Members + l.Clients
}

func (l AgentLayout) String() string {
	return fmt.Sprintf("agent %d (%s) %s members: %d clients: %d",
		l.AgentIndex, l.PublicAddress, l.Mode, l.Members, l.Clients)
}

// Plan assigns member and client worker counts to agents. The result has
// one entry per agent in input order. Plan is deterministic and never
// returns a partial layout.
//
// Without dedicated member machines every agent is MIXED and both counts
// are split over all agents independently. Otherwise the first
// DedicatedMemberMachines agents are MEMBER agents sharing the members
// and the remaining agents are CLIENT agents sharing the clients.
func Plan(agents []Agent, params Parameters) ([]AgentLayout, error) {
	if err := validate(len(agents), params); err != nil {
		return nil, err
	}

	layouts := make([]AgentLayout, len(agents))
	for i, agent := range agents {
		layouts[i] = AgentLayout{
			AgentIndex:    agent.Index,
			PublicAddress: agent.PublicAddress,
			Mode:          modeFor(i, params.DedicatedMemberMachines),
		}
	}

	memberTargets, clientTargets := partition(layouts)

	for i, n := range Split(params.MemberWorkers, len(memberTargets)) {
		memberTargets[i].Members += n
	}
	for i, n := range Split(params.ClientWorkers, len(clientTargets)) {
		clientTargets[i].Clients += n
	}

	return layouts, nil
}

func validate(agentCount int, params Parameters) error {
	if params.DedicatedMemberMachines < 0 || params.MemberWorkers < 0 || params.ClientWorkers < 0 {
		return fmt.Errorf("%w: dedicated=%d members=%d clients=%d", ErrNegativeCount,
			params.DedicatedMemberMachines, params.MemberWorkers, params.ClientWorkers)
	}
	if params.DedicatedMemberMachines > agentCount {
		return fmt.Errorf("%w: %d dedicated, %d agents", ErrDedicatedExceedsAgents,
			params.DedicatedMemberMachines, agentCount)
	}
	if params.DedicatedMemberMachines == agentCount && params.ClientWorkers > 0 {
		return fmt.Errorf("%w: %d agents all dedicated, %d client workers requested", ErrNoClientMachines,
			agentCount, params.ClientWorkers)
	}
	if agentCount == 0 && params.MemberWorkers > 0 {
		return fmt.Errorf("%w: cannot place %d member workers", ErrNoAgents, params.MemberWorkers)
	}
	return nil
}

func modeFor(position, dedicated int) Mode {
	switch {
	case dedicated == 0:
		return ModeMixed
	case position < dedicated:
		return ModeMember
	default:
		return ModeClient
	}
}

// partition returns the agents eligible for members and for clients.
// Both slices alias layouts.
func partition(layouts []AgentLayout) (members, clients []*AgentLayout) {
	for i := range layouts {
		l := &layouts[i]
		switch l.Mode {
		case ModeMixed:
			members = append(members, l)
			clients = append(clients, l)
		case ModeMember:
			members = append(members, l)
		case ModeClient:
			clients = append(clients, l)
		}
	}
	return members, clients
}

// Split divides n units over m ordered targets. The first n%m targets get
// one unit more than the rest, e.g. 4 over 3 is [2 1 1]. Split returns
// nil when m is 0.
func Split(n, m int) []int {
	if m <= 0 {
		return nil
	}
	base, remainder := n/m, n%m
	counts := make([]int, m)
	for i := range counts {
		counts[i] = base
		if i < remainder {
			counts[i]++
		}
	}
	return counts
}
