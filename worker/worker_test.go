package worker

import (
	"testing"

	"loadsim/address"
	"loadsim/layout"
)

// TestLauncher is a minimal launcher used by registry tests
type TestLauncher struct {
	name string
	path string
}

func (l *TestLauncher) Name() string                  { return l.name }
func (l *TestLauncher) Role() layout.Role             { return layout.RoleClient }
func (l *TestLauncher) Validate(spec Spec) error      { return nil }
func (l *TestLauncher) BuildCommand(spec Spec) string { return l.path }
func (l *TestLauncher) SetExecutablePath(path string) { l.path = path }

func TestRegistry_Register(t *testing.T) {
	// Save original state
	originalLaunchers := make(map[string]func() Launcher)
	globalRegistry.mu.Lock()
	for k, v := range globalRegistry.launchers {
		originalLaunchers[k] = v
	}
	globalRegistry.launchers = make(map[string]func() Launcher)
	globalRegistry.mu.Unlock()

	// Restore original state after test
	defer func() {
		globalRegistry.mu.Lock()
		globalRegistry.launchers = originalLaunchers
		globalRegistry.mu.Unlock()
	}()

	Register("test_worker", func() Launcher {
		return &TestLauncher{name: "test_worker"}
	})

	registered := GetRegistered()
	if len(registered) != 1 || registered[0] != "test_worker" {
		t.Errorf("Expected [test_worker], got %v", registered)
	}

	instance, err := CreateWithPath("test_worker", "/opt/bin/custom")
	if err != nil {
		t.Fatalf("Failed to create test_worker: %v", err)
	}
	if instance.Name() != "test_worker" {
		t.Errorf("Expected name 'test_worker', got %q", instance.Name())
	}
	if got := instance.BuildCommand(Spec{}); got != "/opt/bin/custom" {
		t.Errorf("Expected custom path to be applied, got %q", got)
	}
}

func TestRegistry_Create(t *testing.T) {
	tests := []struct {
		name          string
		workerType    string
		shouldSucceed bool
	}{
		{"member", "member", true},
		{"litemember", "litemember", true},
		{"javaclient", "javaclient", true},
		{"non-existent worker type", "pythonclient", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, err := Create(tt.workerType)

			if tt.shouldSucceed {
				if err != nil {
					t.Errorf("Expected success but got error: %v", err)
				}
				if instance == nil {
					t.Error("Expected launcher instance but got nil")
				}
			} else {
				if err == nil {
					t.Error("Expected error but got none")
				}
				if instance != nil {
					t.Error("Expected nil instance but got launcher")
				}
			}
		})
	}
}

func TestRegistry_GetRegisteredSorted(t *testing.T) {
	registered := GetRegistered()
	expected := []string{"javaclient", "litemember", "member"}

	if len(registered) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, registered)
	}
	for i := range expected {
		if registered[i] != expected[i] {
			t.Errorf("Expected %s at %d, got %s", expected[i], i, registered[i])
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	done := make(chan bool, 3)

	go func() {
		for i := 0; i < 10; i++ {
			Register("concurrent_test", func() Launcher {
				return &TestLauncher{name: "concurrent_test"}
			})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 10; i++ {
			GetRegistered()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 10; i++ {
			Create("member")
		}
		done <- true
	}()

	for i := 0; i < 3; i++ {
		<-done
	}

	globalRegistry.mu.Lock()
	delete(globalRegistry.launchers, "concurrent_test")
	globalRegistry.mu.Unlock()
}

func TestRoleFor(t *testing.T) {
	tests := []struct {
		workerType string
		expected   layout.Role
		wantErr    bool
	}{
		{"member", layout.RoleMember, false},
		{"litemember", layout.RoleMember, false},
		{"javaclient", layout.RoleClient, false},
		{"unknown", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.workerType, func(t *testing.T) {
			role, err := RoleFor(tt.workerType)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if role != tt.expected {
				t.Errorf("Expected role %s, got %s", tt.expected, role)
			}
		})
	}
}

func TestPidFile(t *testing.T) {
	addr := address.Worker(2, 5)

	if got := PidFile("/opt/workers", addr); got != "/opt/workers/C_A2_W5/worker.pid" {
		t.Errorf("Expected /opt/workers/C_A2_W5/worker.pid, got %q", got)
	}
	if got := Dir("", addr); got != "workers/C_A2_W5" {
		t.Errorf("Expected default home, got %q", got)
	}
}
