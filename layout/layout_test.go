package layout

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeAgents() []Agent {
	return []Agent{
		{Index: 1, PublicAddress: "192.168.0.1", PrivateAddress: "192.168.0.1"},
		{Index: 2, PublicAddress: "192.168.0.2", PrivateAddress: "192.168.0.2"},
		{Index: 3, PublicAddress: "192.168.0.3", PrivateAddress: "192.168.0.3"},
	}
}

type expectedLayout struct {
	Mode    Mode
	Members int
	Clients int
}

func summarize(layouts []AgentLayout) []expectedLayout {
	out := make([]expectedLayout, len(layouts))
	for i, l := range layouts {
		out[i] = expectedLayout{Mode: l.Mode, Members: l.Count(RoleMember), Clients: l.Count(RoleClient)}
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		params   Parameters
		expected []expectedLayout
	}{
		{
			name:   "all agents dedicated without workers",
			params: Parameters{DedicatedMemberMachines: 3},
			expected: []expectedLayout{
				{ModeMember, 0, 0}, {ModeMember, 0, 0}, {ModeMember, 0, 0},
			},
		},
		{
			name:   "dedicated members leave room for clients",
			params: Parameters{DedicatedMemberMachines: 2, ClientWorkers: 1},
			expected: []expectedLayout{
				{ModeMember, 0, 0}, {ModeMember, 0, 0}, {ModeClient, 0, 1},
			},
		},
		{
			name:   "single member worker",
			params: Parameters{MemberWorkers: 1},
			expected: []expectedLayout{
				{ModeMixed, 1, 0}, {ModeMixed, 0, 0}, {ModeMixed, 0, 0},
			},
		},
		{
			name:   "member worker overflow",
			params: Parameters{MemberWorkers: 4},
			expected: []expectedLayout{
				{ModeMixed, 2, 0}, {ModeMixed, 1, 0}, {ModeMixed, 1, 0},
			},
		},
		{
			name:   "single client worker",
			params: Parameters{ClientWorkers: 1},
			expected: []expectedLayout{
				{ModeMixed, 0, 1}, {ModeMixed, 0, 0}, {ModeMixed, 0, 0},
			},
		},
		{
			name:   "client worker overflow",
			params: Parameters{ClientWorkers: 5},
			expected: []expectedLayout{
				{ModeMixed, 0, 2}, {ModeMixed, 0, 2}, {ModeMixed, 0, 1},
			},
		},
		{
			name:   "mixed members and clients are split independently",
			params: Parameters{MemberWorkers: 2, ClientWorkers: 2},
			expected: []expectedLayout{
				{ModeMixed, 1, 1}, {ModeMixed, 1, 1}, {ModeMixed, 0, 0},
			},
		},
		{
			name:   "one dedicated member machine",
			params: Parameters{DedicatedMemberMachines: 1, MemberWorkers: 2, ClientWorkers: 3},
			expected: []expectedLayout{
				{ModeMember, 2, 0}, {ModeClient, 0, 2}, {ModeClient, 0, 1},
			},
		},
		{
			name:   "two dedicated member machines",
			params: Parameters{DedicatedMemberMachines: 2, MemberWorkers: 2, ClientWorkers: 3},
			expected: []expectedLayout{
				{ModeMember, 1, 0}, {ModeMember, 1, 0}, {ModeClient, 0, 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layouts, err := Plan(threeAgents(), tt.params)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, summarize(layouts)); diff != "" {
				t.Errorf("layout mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlan_KeepsAgentIdentity(t *testing.T) {
	layouts, err := Plan(threeAgents(), Parameters{MemberWorkers: 3})
	require.NoError(t, err)
	for i, l := range layouts {
		assert.Equal(t, i+1, l.AgentIndex)
		assert.Equal(t, fmt.Sprintf("192.168.0.%d", i+1), l.PublicAddress)
	}
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		agents []Agent
		params Parameters
		want   error
	}{
		{"dedicated count higher than agent count", threeAgents(), Parameters{DedicatedMemberMachines: 5}, ErrDedicatedExceedsAgents},
		{"all dedicated with clients", threeAgents(), Parameters{DedicatedMemberMachines: 3, ClientWorkers: 1}, ErrNoClientMachines},
		{"negative members", threeAgents(), Parameters{MemberWorkers: -1}, ErrNegativeCount},
		{"no agents with clients", nil, Parameters{ClientWorkers: 1}, ErrNoClientMachines},
		{"no agents with members", nil, Parameters{MemberWorkers: 1}, ErrNoAgents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layouts, err := Plan(tt.agents, tt.params)
			assert.Nil(t, layouts)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestPlan_NoAgentsNoWorkers(t *testing.T) {
	layouts, err := Plan(nil, Parameters{})
	require.NoError(t, err)
	assert.Empty(t, layouts)
}

func TestPlan_Invariants(t *testing.T) {
	agents := threeAgents()
	agents = append(agents, Agent{Index: 4}, Agent{Index: 5})

	for dedicated := 0; dedicated <= len(agents); dedicated++ {
		for members := 0; members <= 7; members++ {
			for clients := 0; clients <= 7; clients++ {
				params := Parameters{DedicatedMemberMachines: dedicated, MemberWorkers: members, ClientWorkers: clients}
				layouts, err := Plan(agents, params)
				if dedicated == len(agents) && clients > 0 {
					require.ErrorIs(t, err, ErrNoClientMachines)
					continue
				}
				require.NoError(t, err, "%+v", params)

				memberSum, clientSum := 0, 0
				for _, l := range layouts {
					memberSum += l.Members
					clientSum += l.Clients
					if l.Mode == ModeMember {
						assert.Zero(t, l.Clients, "%+v: member agent got clients", params)
					}
					if l.Mode == ModeClient {
						assert.Zero(t, l.Members, "%+v: client agent got members", params)
					}
				}
				assert.Equal(t, members, memberSum, "%+v", params)
				assert.Equal(t, clients, clientSum, "%+v", params)
			}
		}
	}
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []int{2, 1, 1}, Split(4, 3))
	assert.Equal(t, []int{3, 2}, Split(5, 2))
	assert.Equal(t, []int{0, 0, 0}, Split(0, 3))
	assert.Equal(t, []int{7}, Split(7, 1))
	assert.Nil(t, Split(3, 0))
}

func TestSplit_Exactness(t *testing.T) {
	for n := 0; n <= 40; n++ {
		for m := 1; m <= 9; m++ {
			counts := Split(n, m)
			require.Len(t, counts, m)

			sum := 0
			for i, c := range counts {
				sum += c
				if i < n%m {
					assert.Equal(t, n/m+1, c, "n=%d m=%d i=%d", n, m, i)
				} else {
					assert.Equal(t, n/m, c, "n=%d m=%d i=%d", n, m, i)
				}
			}
			assert.Equal(t, n, sum, "n=%d m=%d", n, m)
		}
	}
}
