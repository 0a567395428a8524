package envinfo

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ModuleRegistry manages available environment collection modules
type ModuleRegistry struct {
	modules map[string]Module
	logger  *zap.Logger
}

// NewModuleRegistry creates a new module registry
func NewModuleRegistry(logger *zap.Logger) *ModuleRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ModuleRegistry{
		modules: make(map[string]Module),
		logger:  logger,
	}
}

// Register adds a module to the registry
func (r *ModuleRegistry) Register(module Module) error {
	name := module.Name()
	if name == "" {
		return fmt.Errorf("module name cannot be empty")
	}

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s already registered", name)
	}

	r.modules[name] = module
	r.logger.Debug("registered environment module",
		zap.String("module", name),
		zap.String("description", module.Description()))

	return nil
}

// GetModule returns a module by name
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	module, exists := r.modules[name]
	return module, exists
}

// ListModules returns all registered module names, sorted
func (r *ModuleRegistry) ListModules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectFromModules runs all available modules and collects their data.
// A failing module is logged and skipped.
func (r *ModuleRegistry) CollectFromModules(ctx context.Context, executor CommandExecutor, enabledModules []string) map[string]any {
	results := make(map[string]any)

	if len(enabledModules) == 0 {
		enabledModules = r.ListModules()
	}

	for _, moduleName := range enabledModules {
		module, exists := r.modules[moduleName]
		if !exists {
			r.logger.Warn("requested module not found", zap.String("module", moduleName))
			continue
		}

		if !module.IsAvailable(ctx, executor) {
			r.logger.Debug("skipping unavailable module", zap.String("module", moduleName))
			continue
		}

		data, err := module.Collect(ctx, executor)
		if err != nil {
			r.logger.Warn("module failed to collect data", zap.String("module", moduleName), zap.Error(err))
			continue
		}

		results[moduleName] = data
	}

	return results
}
