package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"loadsim/ssh"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "coordinator.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configFile
}

func TestLoadConfig(t *testing.T) {
	configFile := writeConfig(t, `
coordinator:
  host: "0.0.0.0"
  port: 6000
  request_timeout: 5m

ssh:
  user: "sim"
  key_path: "~/.ssh/id_rsa"

agents:
  - public_address: "10.0.0.1"
    private_address: "192.168.0.1"
  - public_address: "10.0.0.2"
    ssh:
      user: "other"
      port: 2222

placement:
  dedicated_member_machines: 1
  member_workers: 2
  client_workers: 3

workers:
  home: "/opt/sim/workers"
  vm_options: "-Xmx2g"
  binary_paths:
    member: "/usr/lib/jvm/java-17/bin/java"
`)

	config, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Coordinator.Port != 6000 {
		t.Errorf("Expected port 6000, got %d", config.Coordinator.Port)
	}
	if config.Coordinator.RequestTimeout != 5*time.Minute {
		t.Errorf("Expected request timeout 5m, got %v", config.Coordinator.RequestTimeout)
	}
	if config.Coordinator.Address() != "0.0.0.0:6000" {
		t.Errorf("Expected address 0.0.0.0:6000, got %s", config.Coordinator.Address())
	}

	if len(config.Agents) != 2 {
		t.Fatalf("Expected 2 agents, got %d", len(config.Agents))
	}

	first := config.Agents[0]
	if first.SSH.Host != "10.0.0.1" {
		t.Errorf("Expected SSH host to default to public address, got %q", first.SSH.Host)
	}
	if first.SSH.User != "sim" {
		t.Errorf("Expected shared SSH user 'sim', got %q", first.SSH.User)
	}

	second := config.Agents[1]
	if second.PrivateAddress != "10.0.0.2" {
		t.Errorf("Expected private address to default to public address, got %q", second.PrivateAddress)
	}
	if second.SSH.User != "other" {
		t.Errorf("Expected agent SSH user 'other', got %q", second.SSH.User)
	}
	if second.SSH.Port != 2222 {
		t.Errorf("Expected agent SSH port 2222, got %d", second.SSH.Port)
	}
	if second.SSH.KeyPath != "~/.ssh/id_rsa" {
		t.Errorf("Expected shared key path, got %q", second.SSH.KeyPath)
	}

	if config.GetBinaryPath("member") != "/usr/lib/jvm/java-17/bin/java" {
		t.Errorf("Expected member binary path, got %q", config.GetBinaryPath("member"))
	}
	if config.GetBinaryPath("javaclient") != "" {
		t.Errorf("Expected no javaclient binary path, got %q", config.GetBinaryPath("javaclient"))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	configFile := writeConfig(t, `
agents:
  - public_address: "10.0.0.1"
    ssh:
      user: "sim"
      password: "secret"
`)

	config, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	co := config.Coordinator
	if co.Port != DefaultPort {
		t.Errorf("Expected default port %d, got %d", DefaultPort, co.Port)
	}
	if co.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Expected default request timeout, got %v", co.RequestTimeout)
	}
	if co.PollInterval != time.Second {
		t.Errorf("Expected default poll interval 1s, got %v", co.PollInterval)
	}
	if co.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("Expected default shutdown timeout, got %v", co.ShutdownTimeout)
	}
	if co.HistoryDB != ":memory:" {
		t.Errorf("Expected in-memory history, got %q", co.HistoryDB)
	}
	if config.Placement.MemberWorkerType != "member" || config.Placement.ClientWorkerType != "javaclient" {
		t.Errorf("Expected default worker types, got %q and %q",
			config.Placement.MemberWorkerType, config.Placement.ClientWorkerType)
	}
	if config.Workers.VersionSpec != "outofthebox" {
		t.Errorf("Expected default version spec, got %q", config.Workers.VersionSpec)
	}
	if config.Commands.Script == "" {
		t.Error("Expected default script command")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LOADSIM_COORDINATOR_PORT", "7000")
	t.Setenv("LOADSIM_COORDINATOR_SHUTDOWN_TIMEOUT", "30s")

	configFile := writeConfig(t, `
coordinator:
  port: 6000
agents:
  - public_address: "10.0.0.1"
    ssh:
      user: "sim"
      password: "secret"
`)

	config, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Coordinator.Port != 7000 {
		t.Errorf("Expected env port 7000, got %d", config.Coordinator.Port)
	}
	if config.Coordinator.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected env shutdown timeout 30s, got %v", config.Coordinator.ShutdownTimeout)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "agents: [")); err == nil {
		t.Error("Expected error for invalid YAML")
	}

	invalid := writeConfig(t, `
agents:
  - public_address: "10.0.0.1"
    ssh:
      user: "sim"
      password: "secret"
placement:
  dedicated_member_machines: 1
  client_workers: 1
`)
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("Expected placement error when every agent is dedicated to members")
	}
}

func TestMergeSSHConfig(t *testing.T) {
	config := &Config{
		SSH: &ssh.Config{User: "shared", KeyPath: "/keys/shared", Port: 22},
	}

	tests := []struct {
		name     string
		agent    AgentConfig
		expected ssh.Config
	}{
		{
			name:     "shared only",
			agent:    AgentConfig{PublicAddress: "10.0.0.1"},
			expected: ssh.Config{Host: "10.0.0.1", User: "shared", KeyPath: "/keys/shared", Port: 22},
		},
		{
			name: "agent overrides",
			agent: AgentConfig{
				PublicAddress: "10.0.0.2",
				SSH:           &ssh.Config{Host: "bastion", User: "root", Port: 2200},
			},
			expected: ssh.Config{Host: "bastion", User: "root", KeyPath: "/keys/shared", Port: 2200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := config.MergeSSHConfig(&tt.agent)
			if *merged != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, *merged)
			}
		})
	}

	// the shared config must not be modified
	if config.SSH.Host != "" {
		t.Errorf("Shared SSH config was modified: %+v", config.SSH)
	}
}

func TestSaveConfig(t *testing.T) {
	config := &Config{
		SSH:    &ssh.Config{User: "sim", Password: "secret"},
		Agents: []AgentConfig{{PublicAddress: "10.0.0.1"}},
	}
	config.ApplyDefaults()

	configFile := filepath.Join(t.TempDir(), "saved.yaml")
	if err := config.SaveConfig(configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(configFile)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Agents[0].SSH.Host != "10.0.0.1" {
		t.Errorf("Expected saved agent SSH host, got %q", loaded.Agents[0].SSH.Host)
	}
	if loaded.Coordinator.Port != DefaultPort {
		t.Errorf("Expected saved port %d, got %d", DefaultPort, loaded.Coordinator.Port)
	}
}

func TestLoadRemoteSettings(t *testing.T) {
	settings, err := LoadRemoteSettings()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settings.Address() != "localhost:5000" {
		t.Errorf("Expected default address localhost:5000, got %s", settings.Address())
	}
	if settings.Timeout != 10*time.Minute {
		t.Errorf("Expected default timeout 10m, got %v", settings.Timeout)
	}

	t.Setenv("LOADSIM_REMOTE_HOST", "coordinator.local")
	t.Setenv("LOADSIM_REMOTE_TIMEOUT", "30s")
	settings, err = LoadRemoteSettings()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if settings.Host != "coordinator.local" || settings.Timeout != 30*time.Second {
		t.Errorf("Expected env overrides, got %+v", settings)
	}
}
