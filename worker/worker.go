// Package worker knows how to start each type of worker process on an
// agent machine.
package worker

import (
	"fmt"
	"sort"
	"sync"

	"loadsim/address"
	"loadsim/layout"
)

// Spec describes one worker to start
type Spec struct {
	// Address is the worker address assigned by the coordinator
	Address address.Address

	// Home is the directory on the agent holding all worker directories
	Home string

	VersionSpec string
	VMOptions   string

	// Config is the worker configuration text, written next to the pid file
	Config string

	Env map[string]string
}

// Dir returns the remote directory of the worker.
func (s Spec) Dir() string {
	return Dir(s.Home, s.Address)
}

// Dir returns the remote directory of the worker at addr below home.
func Dir(home string, addr address.Address) string {
	if home == "" {
		home = DefaultHome
	}
	return home + "/" + addr.String()
}

// PidFile returns the remote path of the pid file of the worker at addr.
func PidFile(home string, addr address.Address) string {
	return Dir(home, addr) + "/" + pidFileName
}

const (
	// DefaultHome is used when no worker home is configured
	DefaultHome = "workers"

	pidFileName    = "worker.pid"
	configFileName = "worker.conf"
)

// Launcher builds the start command of one worker type
type Launcher interface {
	// Name returns the worker type name
	Name() string

	// Role returns the cluster role workers of this type play
	Role() layout.Role

	// Validate checks the worker can be started by this launcher
	Validate(spec Spec) error

	// BuildCommand constructs the command line for remote execution. The
	// command writes the worker pid file and then becomes the worker.
	BuildCommand(spec Spec) string

	// SetExecutablePath sets the custom executable path for this launcher
	SetExecutablePath(path string)
}

// Registry holds all registered worker types
type Registry struct {
	launchers map[string]func() Launcher
	mu        sync.RWMutex
}

var globalRegistry = &Registry{
	launchers: make(map[string]func() Launcher),
}

// Register adds a launcher factory to the global registry
func Register(name string, factory func() Launcher) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.launchers[name] = factory
}

// Create creates a new launcher by worker type
func Create(workerType string) (Launcher, error) {
	return CreateWithPath(workerType, "")
}

// CreateWithPath creates a new launcher by worker type with a custom binary path
func CreateWithPath(workerType string, binaryPath string) (Launcher, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	factory, exists := globalRegistry.launchers[workerType]
	if !exists {
		return nil, fmt.Errorf("worker type %s not found", workerType)
	}

	launcher := factory()
	if binaryPath != "" {
		launcher.SetExecutablePath(binaryPath)
	}
	return launcher, nil
}

// GetRegistered returns all registered worker types, sorted
func GetRegistered() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalRegistry.launchers))
	for name := range globalRegistry.launchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoleFor returns the role of workerType.
func RoleFor(workerType string) (layout.Role, error) {
	launcher, err := Create(workerType)
	if err != nil {
		return 0, err
	}
	return launcher.Role(), nil
}
