// Package address implements the hierarchical coordinator/agent/worker/test
// address space used to route operations and attribute responses.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the depth of an address. Levels are strictly ordered.
type Level int

const (
	LevelCoordinator Level = iota
	LevelAgent
	LevelWorker
	LevelTest
)

var levelNames = [...]string{"COORDINATOR", "AGENT", "WORKER", "TEST"}

// levelTags are the one-letter prefixes of each token in the text form.
var levelTags = [...]byte{'C', 'A', 'W', 'T'}

func (l Level) String() string {
	if l < LevelCoordinator || l > LevelTest {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Component is the value of one level of an address: unset, a positive
// index, or the wildcard.
type Component struct {
	index    int
	wildcard bool
}

// Any is the wildcard component. It is only meaningful in patterns.
var Any = Component{wildcard: true}

// Index returns a concrete component.
func Index(i int) Component {
	return Component{index: i}
}

// IsSet reports whether the component addresses something at its level.
func (c Component) IsSet() bool {
	return c.wildcard || c.index != 0
}

// IsWildcard reports whether the component is the wildcard.
func (c Component) IsWildcard() bool {
	return c.wildcard
}

// Value returns the index, or 0 for unset and wildcard components.
func (c Component) Value() int {
	if c.wildcard {
		return 0
	}
	return c.index
}

func (c Component) String() string {
	if c.wildcard {
		return "*"
	}
	return strconv.Itoa(c.index)
}

// matches treats c as the pattern side.
func (c Component) matches(candidate Component) bool {
	if c.wildcard {
		return true
	}
	return !candidate.wildcard && c.index == candidate.index
}

// Address identifies the coordinator, an agent, a worker or a test
// instance. The zero value is the coordinator address. Addresses are
// comparable values; use == for concrete equality and Matches for
// patterns.
type Address struct {
	agent  Component
	worker Component
	test   Component
}

// Coordinator returns the address of the coordinator.
func Coordinator() Address {
	return Address{}
}

// Agent returns the address of agent a.
func Agent(a int) Address {
	return Address{agent: Index(a)}
}

// Worker returns the address of worker w on agent a.
func Worker(a, w int) Address {
	return Address{agent: Index(a), worker: Index(w)}
}

// Test returns the address of test t on worker w of agent a.
func Test(a, w, t int) Address {
	return Address{agent: Index(a), worker: Index(w), test: Index(t)}
}

// New builds an address from the agent, worker and test components,
// rejecting gaps (a set level below an unset one) and negative indexes.
func New(agent, worker, test Component) (Address, error) {
	a := Address{agent: agent, worker: worker, test: test}
	if err := a.validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

func (a Address) validate() error {
	components := a.components()
	gap := false
	for i, c := range components {
		if !c.wildcard && c.index < 0 {
			return fmt.Errorf("negative %s index %d", Level(i+1), c.index)
		}
		if !c.IsSet() {
			gap = true
			continue
		}
		if gap {
			return fmt.Errorf("%s is set but a parent level is not", Level(i+1))
		}
	}
	return nil
}

func (a Address) components() [3]Component {
	return [3]Component{a.agent, a.worker, a.test}
}

// Level returns the deepest addressed level.
func (a Address) Level() Level {
	switch {
	case a.test.IsSet():
		return LevelTest
	case a.worker.IsSet():
		return LevelWorker
	case a.agent.IsSet():
		return LevelAgent
	default:
		return LevelCoordinator
	}
}

// AgentComponent returns the agent level component.
func (a Address) AgentComponent() Component { return a.agent }

// WorkerComponent returns the worker level component.
func (a Address) WorkerComponent() Component { return a.worker }

// TestComponent returns the test level component.
func (a Address) TestComponent() Component { return a.test }

// AgentIndex returns the agent index, 0 when unset or wildcard.
func (a Address) AgentIndex() int { return a.agent.Value() }

// WorkerIndex returns the worker index, 0 when unset or wildcard.
func (a Address) WorkerIndex() int { return a.worker.Value() }

// TestIndex returns the test index, 0 when unset or wildcard.
func (a Address) TestIndex() int { return a.test.Value() }

// IsConcrete reports whether the address contains no wildcard.
func (a Address) IsConcrete() bool {
	return !a.agent.wildcard && !a.worker.wildcard && !a.test.wildcard
}

// Parent returns the address one level up. The coordinator is its own
// parent.
func (a Address) Parent() Address {
	switch a.Level() {
	case LevelTest:
		a.test = Component{}
	case LevelWorker:
		a.worker = Component{}
	case LevelAgent:
		a.agent = Component{}
	}
	return a
}

// AgentAddress returns the agent-level ancestor of a worker or test
// address, or a itself for an agent address.
func (a Address) AgentAddress() Address {
	return Address{agent: a.agent}
}

// Child returns the address one level down with the given index. Calling
// Child on a test address returns the address unchanged.
func (a Address) Child(index int) Address {
	switch a.Level() {
	case LevelCoordinator:
		a.agent = Index(index)
	case LevelAgent:
		a.worker = Index(index)
	case LevelWorker:
		a.test = Index(index)
	}
	return a
}

// String renders the canonical text form, e.g. C_A1_W2_T3.
func (a Address) String() string {
	var b strings.Builder
	b.WriteByte(levelTags[LevelCoordinator])
	level := a.Level()
	for i, c := range a.components() {
		if Level(i+1) > level {
			break
		}
		b.WriteByte('_')
		b.WriteByte(levelTags[i+1])
		b.WriteString(c.String())
	}
	return b.String()
}

// Matches reports whether the address, used as a pattern, selects
// candidate.
func (a Address) Matches(candidate Address) bool {
	return Matches(a, candidate)
}

// Matches reports whether candidate is selected by pattern. Per level a
// wildcard matches any value, an unset level matches only an unset
// level and an index matches only the same index.
func Matches(pattern, candidate Address) bool {
	p := pattern.components()
	c := candidate.components()
	for i := range p {
		if !p[i].matches(c[i]) {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
