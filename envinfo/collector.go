package envinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AgentInfo is the environment of one agent machine
type AgentInfo struct {
	CollectionTime time.Time      `json:"collection_time"`
	Modules        map[string]any `json:"modules"`
}

// Collector gathers AgentInfo through an executor
type Collector struct {
	registry       *ModuleRegistry
	executor       CommandExecutor
	logger         *zap.Logger
	enabledModules []string
}

// NewCollector creates a collector using the given registry
func NewCollector(registry *ModuleRegistry, executor CommandExecutor, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		registry: registry,
		executor: executor,
		logger:   logger,
	}
}

// NewRemoteCollector creates a collector for an agent using the default modules
func NewRemoteCollector(runner Runner, logger *zap.Logger) (*Collector, error) {
	registry, err := GetDefaultRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create default registry: %w", err)
	}
	return NewCollector(registry, NewRemoteExecutor(runner), logger), nil
}

// SetEnabledModules sets which modules should be run (empty slice means all available)
func (c *Collector) SetEnabledModules(modules []string) {
	c.enabledModules = modules
}

// Collect gathers environment information from every enabled module
func (c *Collector) Collect(ctx context.Context) *AgentInfo {
	info := &AgentInfo{
		CollectionTime: time.Now(),
		Modules:        c.registry.CollectFromModules(ctx, c.executor, c.enabledModules),
	}
	c.logger.Debug("collected environment", zap.Int("modules", len(info.Modules)))
	return info
}

// Summary renders the facts shown in the layout, e.g.
// "agent1 x86_64, 8 cores Intel Xeon, 32 GB, openjdk 17.0.2".
func (info *AgentInfo) Summary() string {
	if info == nil {
		return ""
	}

	var parts []string
	if system, ok := info.Modules["system"].(*SystemInfo); ok {
		parts = append(parts, strings.TrimSpace(system.Hostname+" "+system.Architecture))
	}
	if cpu, ok := info.Modules["cpu"].(*CPUInfo); ok && cpu.Threads > 0 {
		text := fmt.Sprintf("%d cores", cpu.Threads)
		if cpu.Model != "" {
			text += " " + cpu.Model
		}
		parts = append(parts, text)
	}
	if memory, ok := info.Modules["memory"].(*MemoryInfo); ok && memory.TotalKB > 0 {
		parts = append(parts, formatKB(memory.TotalKB))
	}
	if java, ok := info.Modules["java"].(*JavaInfo); ok && java.Version != "" {
		parts = append(parts, java.Version)
	}
	return strings.Join(parts, ", ")
}

func formatKB(kb int64) string {
	const mb = 1024
	const gb = 1024 * mb
	switch {
	case kb >= gb:
		return fmt.Sprintf("%d GB", (kb+gb/2)/gb)
	case kb >= mb:
		return fmt.Sprintf("%d MB", (kb+mb/2)/mb)
	}
	return fmt.Sprintf("%d KB", kb)
}
