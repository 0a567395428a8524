package config

import (
	"fmt"
	"slices"
	"strings"

	"loadsim/envinfo"
	"loadsim/layout"
	"loadsim/worker"
)

// Validator handles configuration validation
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates the entire configuration
func (v *Validator) ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := v.validateCoordinator(&c.Coordinator); err != nil {
		return err
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		agent := &c.Agents[i]
		if err := v.validateAgent(i, agent); err != nil {
			return err
		}
		if seen[agent.PublicAddress] {
			return fmt.Errorf("agent %d: duplicate public address %s", i+1, agent.PublicAddress)
		}
		seen[agent.PublicAddress] = true
	}

	if err := v.validatePlacement(c); err != nil {
		return err
	}

	if err := v.validateBinaryPaths(c); err != nil {
		return err
	}

	if _, err := c.Commands.Templates(); err != nil {
		return err
	}

	return nil
}

func (v *Validator) validateCoordinator(c *CoordinatorConfig) error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("coordinator: port must be between 1 and 65535")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("coordinator: parallelism must be at least 1")
	}
	if c.RequestTimeout < 0 || c.PollInterval < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("coordinator: timeouts cannot be negative")
	}
	known := envinfo.GetRegisteredModuleNames()
	for _, name := range c.EnvModules {
		if !slices.Contains(known, name) {
			return fmt.Errorf("coordinator: unknown env module %q, available: %s", name, strings.Join(known, ", "))
		}
	}
	return nil
}

// validateAgent validates a single agent configuration
func (v *Validator) validateAgent(index int, agent *AgentConfig) error {
	name := fmt.Sprintf("agent %d", index+1)
	if agent.PublicAddress == "" {
		return fmt.Errorf("%s: public address is required", name)
	}

	if agent.SSH == nil {
		return fmt.Errorf("%s: SSH configuration is required", name)
	}

	if agent.SSH.Host == "" {
		return fmt.Errorf("%s: SSH host is required", name)
	}

	if agent.SSH.User == "" {
		return fmt.Errorf("%s: SSH user is required", name)
	}

	if agent.SSH.KeyPath == "" && agent.SSH.Password == "" {
		return fmt.Errorf("%s: either SSH key path or password is required", name)
	}

	return nil
}

// validatePlacement checks the initial workers fit on the agents and use
// known worker types of the right role
func (v *Validator) validatePlacement(c *Config) error {
	p := c.Placement

	agents := make([]layout.Agent, len(c.Agents))
	for i, a := range c.Agents {
		agents[i] = layout.Agent{Index: i + 1, PublicAddress: a.PublicAddress, PrivateAddress: a.PrivateAddress}
	}
	if _, err := layout.Plan(agents, layout.Parameters{
		DedicatedMemberMachines: p.DedicatedMemberMachines,
		MemberWorkers:           p.MemberWorkers,
		ClientWorkers:           p.ClientWorkers,
	}); err != nil {
		return fmt.Errorf("placement: %w", err)
	}

	for _, check := range []struct {
		field      string
		workerType string
		role       layout.Role
	}{
		{"member_worker_type", p.MemberWorkerType, layout.RoleMember},
		{"client_worker_type", p.ClientWorkerType, layout.RoleClient},
	} {
		role, err := worker.RoleFor(check.workerType)
		if err != nil {
			return fmt.Errorf("placement.%s: %w", check.field, err)
		}
		if role != check.role {
			return fmt.Errorf("placement.%s: %s workers have role %s, not %s", check.field, check.workerType, role, check.role)
		}
	}
	return nil
}

// validateBinaryPaths validates binary path configurations. The paths
// live on the agents, so only their presence is checked here.
func (v *Validator) validateBinaryPaths(c *Config) error {
	for workerType, binaryPath := range c.Workers.BinaryPaths {
		if _, err := worker.Create(workerType); err != nil {
			return fmt.Errorf("workers.binary_paths.%s: %w", workerType, err)
		}
		if binaryPath == "" {
			return fmt.Errorf("workers.binary_paths.%s: path cannot be empty", workerType)
		}
	}
	return nil
}
