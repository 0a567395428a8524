package worker

import (
	"fmt"
	"strings"

	"loadsim/address"
	"loadsim/layout"
)

// Auto-register the worker types
func init() {
	Register("member", func() Launcher {
		return NewJavaLauncher("member", layout.RoleMember, "com.hazelcast.simulator.worker.MemberWorker", "")
	})
	Register("litemember", func() Launcher {
		return NewJavaLauncher("litemember", layout.RoleMember, "com.hazelcast.simulator.worker.MemberWorker", "")
	})
	Register("javaclient", func() Launcher {
		return NewJavaLauncher("javaclient", layout.RoleClient, "com.hazelcast.simulator.worker.ClientWorker", "")
	})
}

// JavaLauncher starts a JVM based worker
type JavaLauncher struct {
	name           string
	role           layout.Role
	mainClass      string
	executablePath string
}

// NewJavaLauncher creates a launcher for the worker type name
func NewJavaLauncher(name string, role layout.Role, mainClass, executablePath string) *JavaLauncher {
	if executablePath == "" {
		executablePath = "java"
	}
	return &JavaLauncher{
		name:           name,
		role:           role,
		mainClass:      mainClass,
		executablePath: executablePath,
	}
}

// Name returns the worker type name
func (l *JavaLauncher) Name() string {
	return l.name
}

// Role returns the cluster role of the worker type
func (l *JavaLauncher) Role() layout.Role {
	return l.role
}

// SetExecutablePath sets the custom executable path for this launcher
func (l *JavaLauncher) SetExecutablePath(path string) {
	l.executablePath = path
}

// Validate checks if the start settings are valid for this worker type
func (l *JavaLauncher) Validate(spec Spec) error {
	if spec.Address.Level() != address.LevelWorker || !spec.Address.IsConcrete() {
		return fmt.Errorf("%s: %s is not a worker address", l.name, spec.Address)
	}
	if strings.ContainsAny(spec.VMOptions, "\n;&|`") {
		return fmt.Errorf("%s: vm options contain shell control characters", l.name)
	}
	for key := range spec.Env {
		if !isEnvName(key) {
			return fmt.Errorf("%s: invalid environment variable name %q", l.name, key)
		}
	}
	return nil
}

// BuildCommand constructs the full command line for remote execution
func (l *JavaLauncher) BuildCommand(spec Spec) string {
	dir := spec.Dir()

	var b strings.Builder
	fmt.Fprintf(&b, "mkdir -p %s && cd %s", shellQuote(dir), shellQuote(dir))
	if spec.Config != "" {
		fmt.Fprintf(&b, " && printf '%%s' %s > %s", shellQuote(spec.Config), configFileName)
	}
	fmt.Fprintf(&b, " && echo $$ > %s && exec ", pidFileName)

	b.WriteString(buildEnvPrefix(spec))
	b.WriteString(l.executablePath)
	if spec.VMOptions != "" {
		b.WriteString(" " + spec.VMOptions)
	}
	fmt.Fprintf(&b, " -DworkerAddress=%s -DworkerType=%s", spec.Address, l.name)
	if spec.VersionSpec != "" {
		fmt.Fprintf(&b, " -DversionSpec=%s", shellQuote(spec.VersionSpec))
	}
	b.WriteString(" " + l.mainClass)
	if spec.Config != "" {
		b.WriteString(" " + configFileName)
	}
	return b.String()
}
