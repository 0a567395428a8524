package envinfo

import (
	"context"
	"strings"
)

// SystemInfo represents basic system information
type SystemInfo struct {
	Hostname      string `json:"hostname"`
	KernelVersion string `json:"kernel_version"`
	OSInfo        string `json:"os_info"`
	Architecture  string `json:"architecture"`
}

// SystemModule collects basic system information
type SystemModule struct{}

// NewSystemModule creates a new system information module
func NewSystemModule() *SystemModule {
	return &SystemModule{}
}

// Name returns the module name
func (m *SystemModule) Name() string {
	return "system"
}

// Description returns the module description
func (m *SystemModule) Description() string {
	return "Collects basic system information (hostname, kernel, OS, architecture)"
}

// IsAvailable checks if the module can run
func (m *SystemModule) IsAvailable(ctx context.Context, executor CommandExecutor) bool {
	return true
}

// Collect gathers system information
func (m *SystemModule) Collect(ctx context.Context, executor CommandExecutor) (any, error) {
	info := &SystemInfo{}

	for cmd, target := range map[string]*string{
		"hostname":  &info.Hostname,
		"uname -r":  &info.KernelVersion,
		"uname -sv": &info.OSInfo,
		"uname -m":  &info.Architecture,
	} {
		if output, err := executor.Execute(ctx, cmd); err == nil {
			*target = strings.TrimSpace(output)
		}
	}

	return info, nil
}

// Auto-register this module
func init() {
	RegisterModule("system", func() Module {
		return NewSystemModule()
	})
}
