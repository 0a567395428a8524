package envinfo

import (
	"bufio"
	"context"
	"strconv"
	"strings"
)

// MemoryInfo represents memory information in kilobytes
type MemoryInfo struct {
	TotalKB     int64 `json:"total_kb"`
	AvailableKB int64 `json:"available_kb"`
	FreeKB      int64 `json:"free_kb"`
	UsedKB      int64 `json:"used_kb"`
	SwapTotalKB int64 `json:"swap_total_kb,omitempty"`
}

// MemoryModule collects memory information
type MemoryModule struct{}

// NewMemoryModule creates a new memory information module
func NewMemoryModule() *MemoryModule {
	return &MemoryModule{}
}

// Name returns the module name
func (m *MemoryModule) Name() string {
	return "memory"
}

// Description returns the module description
func (m *MemoryModule) Description() string {
	return "Collects memory information (total, available, free, used, swap)"
}

// IsAvailable checks if /proc/meminfo exists
func (m *MemoryModule) IsAvailable(ctx context.Context, executor CommandExecutor) bool {
	_, err := executor.Execute(ctx, "test -f /proc/meminfo")
	return err == nil
}

// Collect gathers memory information
func (m *MemoryModule) Collect(ctx context.Context, executor CommandExecutor) (any, error) {
	output, err := executor.Execute(ctx, "cat /proc/meminfo")
	if err != nil {
		return nil, err
	}
	return parseMeminfo(output), nil
}

func parseMeminfo(output string) *MemoryInfo {
	info := &MemoryInfo{}
	fields := map[string]*int64{
		"MemTotal":     &info.TotalKB,
		"MemAvailable": &info.AvailableKB,
		"MemFree":      &info.FreeKB,
		"SwapTotal":    &info.SwapTotalKB,
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		target, wanted := fields[key]
		if !wanted {
			continue
		}
		value := strings.Fields(rest)
		if len(value) == 0 {
			continue
		}
		if n, err := strconv.ParseInt(value[0], 10, 64); err == nil {
			*target = n
		}
	}

	if info.TotalKB > 0 && info.AvailableKB > 0 {
		info.UsedKB = info.TotalKB - info.AvailableKB
	}
	return info
}

// Auto-register this module
func init() {
	RegisterModule("memory", func() Module {
		return NewMemoryModule()
	})
}
