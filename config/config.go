// Package config loads the coordinator configuration and test suites.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"loadsim/ssh"
)

// Config represents the coordinator configuration
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// SSH holds connection settings shared by all agents
	SSH *ssh.Config `yaml:"ssh,omitempty"`

	// Agents in registration order
	Agents []AgentConfig `yaml:"agents"`

	Placement PlacementConfig `yaml:"placement"`
	Workers   WorkersConfig   `yaml:"workers"`
	Commands  Commands        `yaml:"commands"`
}

// CoordinatorConfig configures the coordinator process. Every field can be
// overridden with a LOADSIM_COORDINATOR_<NAME> environment variable.
type CoordinatorConfig struct {
	Host            string        `yaml:"host" envconfig:"host"`
	Port            int           `yaml:"port" envconfig:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"request_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"shutdown_timeout"`
	Parallelism     int           `yaml:"parallelism" envconfig:"parallelism"`
	HistoryDB       string        `yaml:"history_db" envconfig:"history_db"`
	DownloadDir     string        `yaml:"download_dir" envconfig:"download_dir"`

	// EnvModules limits the environment collected from each agent; empty
	// collects every module
	EnvModules []string `yaml:"env_modules,omitempty" envconfig:"env_modules"`
}

// Address returns host:port the coordinator listens on.
func (c CoordinatorConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AgentConfig represents a single agent machine
type AgentConfig struct {
	PublicAddress  string      `yaml:"public_address"`
	PrivateAddress string      `yaml:"private_address,omitempty"`
	SSH            *ssh.Config `yaml:"ssh,omitempty"`
}

// PlacementConfig decides the workers started with the coordinator
type PlacementConfig struct {
	DedicatedMemberMachines int    `yaml:"dedicated_member_machines"`
	MemberWorkers           int    `yaml:"member_workers"`
	ClientWorkers           int    `yaml:"client_workers"`
	MemberWorkerType        string `yaml:"member_worker_type"`
	ClientWorkerType        string `yaml:"client_worker_type"`
}

// WorkersConfig holds settings shared by all workers
type WorkersConfig struct {
	Home        string            `yaml:"home"`
	VersionSpec string            `yaml:"version_spec"`
	VMOptions   string            `yaml:"vm_options,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`

	// Binary path configurations per worker type
	BinaryPaths map[string]string `yaml:"binary_paths,omitempty"`
}

const (
	DefaultPort             = 5000
	DefaultRequestTimeout   = 10 * time.Minute
	DefaultPollInterval     = time.Second
	DefaultShutdownTimeout  = 2 * time.Minute
	DefaultParallelism      = 16
	DefaultHistoryDB        = ":memory:"
	DefaultDownloadDir      = "./artifacts"
	DefaultVersionSpec      = "outofthebox"
	DefaultMemberWorkerType = "member"
	DefaultClientWorkerType = "javaclient"
	DefaultWorkerHome       = "loadsim/workers"

	envPrefix = "loadsim_coordinator"
)

// LoadConfig loads configuration from a YAML file, applies environment
// overrides and defaults, and validates the result
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := envconfig.Process(envPrefix, &config.Coordinator); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()

	validator := NewValidator()
	if err := validator.ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset field with its default
func (c *Config) ApplyDefaults() {
	co := &c.Coordinator
	if co.Port == 0 {
		co.Port = DefaultPort
	}
	if co.RequestTimeout == 0 {
		co.RequestTimeout = DefaultRequestTimeout
	}
	if co.PollInterval == 0 {
		co.PollInterval = DefaultPollInterval
	}
	if co.ShutdownTimeout == 0 {
		co.ShutdownTimeout = DefaultShutdownTimeout
	}
	if co.Parallelism == 0 {
		co.Parallelism = DefaultParallelism
	}
	if co.HistoryDB == "" {
		co.HistoryDB = DefaultHistoryDB
	}
	if co.DownloadDir == "" {
		co.DownloadDir = DefaultDownloadDir
	}

	if c.Placement.MemberWorkerType == "" {
		c.Placement.MemberWorkerType = DefaultMemberWorkerType
	}
	if c.Placement.ClientWorkerType == "" {
		c.Placement.ClientWorkerType = DefaultClientWorkerType
	}

	if c.Workers.Home == "" {
		c.Workers.Home = DefaultWorkerHome
	}
	if c.Workers.VersionSpec == "" {
		c.Workers.VersionSpec = DefaultVersionSpec
	}

	c.Commands.applyDefaults()

	for i := range c.Agents {
		agent := &c.Agents[i]
		if agent.PrivateAddress == "" {
			agent.PrivateAddress = agent.PublicAddress
		}
		agent.SSH = c.MergeSSHConfig(agent)
	}
}

// MergeSSHConfig merges the agent specific SSH settings over the shared
// ones. The SSH host defaults to the agent public address.
func (c *Config) MergeSSHConfig(agent *AgentConfig) *ssh.Config {
	merged := &ssh.Config{}
	if c.SSH != nil {
		*merged = *c.SSH
	}

	if own := agent.SSH; own != nil {
		if own.Host != "" {
			merged.Host = own.Host
		}
		if own.Port > 0 {
			merged.Port = own.Port
		}
		if own.User != "" {
			merged.User = own.User
		}
		if own.KeyPath != "" {
			merged.KeyPath = own.KeyPath
		}
		if own.Password != "" {
			merged.Password = own.Password
		}
		if own.KnownHostsPath != "" {
			merged.KnownHostsPath = own.KnownHostsPath
		}
		if own.ConnectTimeout > 0 {
			merged.ConnectTimeout = own.ConnectTimeout
		}
		if own.CommandTimeout > 0 {
			merged.CommandTimeout = own.CommandTimeout
		}
	}

	if merged.Host == "" {
		merged.Host = agent.PublicAddress
	}
	return merged
}

// GetBinaryPath returns the binary path for a worker type, or empty string if not configured
func (c *Config) GetBinaryPath(workerType string) string {
	if c.Workers.BinaryPaths == nil {
		return ""
	}
	return c.Workers.BinaryPaths[workerType]
}

// SaveConfig saves configuration to a YAML file
func (c *Config) SaveConfig(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}

// RemoteSettings locate the coordinator for the control commands. They
// are read from LOADSIM_REMOTE_HOST, LOADSIM_REMOTE_PORT and
// LOADSIM_REMOTE_TIMEOUT.
type RemoteSettings struct {
	Host    string        `envconfig:"host" default:"localhost"`
	Port    int           `envconfig:"port" default:"5000"`
	Timeout time.Duration `envconfig:"timeout" default:"10m"`
}

// Address returns host:port of the coordinator.
func (r RemoteSettings) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// LoadRemoteSettings reads the remote settings from the environment
func LoadRemoteSettings() (RemoteSettings, error) {
	var settings RemoteSettings
	if err := envconfig.Process("loadsim_remote", &settings); err != nil {
		return settings, fmt.Errorf("failed to read remote settings: %w", err)
	}
	return settings, nil
}
