package envinfo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CPUInfo represents CPU information
type CPUInfo struct {
	Model     string `json:"model"`
	Cores     int    `json:"cores"`
	Threads   int    `json:"threads"`
	Frequency string `json:"frequency,omitempty"`
}

// CPUModule collects CPU information
type CPUModule struct{}

// NewCPUModule creates a new CPU information module
func NewCPUModule() *CPUModule {
	return &CPUModule{}
}

// Name returns the module name
func (m *CPUModule) Name() string {
	return "cpu"
}

// Description returns the module description
func (m *CPUModule) Description() string {
	return "Collects CPU information (model, cores, threads, frequency)"
}

// IsAvailable checks if the module can run
func (m *CPUModule) IsAvailable(ctx context.Context, executor CommandExecutor) bool {
	_, err := executor.Execute(ctx, "nproc")
	return err == nil
}

// Collect gathers CPU information
func (m *CPUModule) Collect(ctx context.Context, executor CommandExecutor) (any, error) {
	info := &CPUInfo{}

	threads, err := executor.Execute(ctx, "nproc")
	if err != nil {
		return nil, err
	}
	if info.Threads, err = strconv.Atoi(strings.TrimSpace(threads)); err != nil {
		return nil, fmt.Errorf("unexpected nproc output %q", threads)
	}
	info.Cores = info.Threads

	if cpuModel, err := executor.Execute(ctx, "grep 'model name' /proc/cpuinfo | head -1 | cut -d':' -f2"); err == nil {
		info.Model = strings.TrimSpace(cpuModel)
	}

	// physical cores per socket, threads stay the logical count
	if physicalCores, err := executor.Execute(ctx, "grep 'cpu cores' /proc/cpuinfo | head -1 | cut -d':' -f2"); err == nil {
		if physical, parseErr := strconv.Atoi(strings.TrimSpace(physicalCores)); parseErr == nil && physical > 0 {
			info.Cores = physical
		}
	}

	if freq, err := executor.Execute(ctx, "grep 'cpu MHz' /proc/cpuinfo | head -1 | cut -d':' -f2"); err == nil {
		if freqStr := strings.TrimSpace(freq); freqStr != "" {
			info.Frequency = freqStr + " MHz"
		}
	}

	return info, nil
}

// Auto-register this module
func init() {
	RegisterModule("cpu", func() Module {
		return NewCPUModule()
	})
}
