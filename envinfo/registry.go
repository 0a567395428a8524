package envinfo

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Global registry for auto-discovery
var (
	globalModuleFactories = make(map[string]func() Module)
	globalMutex           sync.RWMutex
)

// RegisterModule registers a module factory function for auto-discovery.
// This is typically called from init() functions in module files
func RegisterModule(name string, factory func() Module) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalModuleFactories[name] = factory
}

// GetRegisteredModuleNames returns all auto-registered module names, sorted
func GetRegisteredModuleNames() []string {
	globalMutex.RLock()
	defer globalMutex.RUnlock()

	names := make([]string, 0, len(globalModuleFactories))
	for name := range globalModuleFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaultModules registers all auto-discovered modules
func RegisterDefaultModules(registry *ModuleRegistry) error {
	globalMutex.RLock()
	defer globalMutex.RUnlock()

	for _, factory := range globalModuleFactories {
		if err := registry.Register(factory()); err != nil {
			return err
		}
	}
	return nil
}

// GetDefaultRegistry creates a registry with all auto-discovered modules pre-registered
func GetDefaultRegistry(logger *zap.Logger) (*ModuleRegistry, error) {
	registry := NewModuleRegistry(logger)

	if err := RegisterDefaultModules(registry); err != nil {
		return nil, err
	}

	return registry, nil
}
