package envinfo

import (
	"context"
	"strings"
)

// JavaInfo describes the JVM workers run on
type JavaInfo struct {
	Version string `json:"version"`
	Runtime string `json:"runtime,omitempty"`
}

// JavaModule collects the JVM version of the agent
type JavaModule struct{}

// NewJavaModule creates a new JVM version module
func NewJavaModule() *JavaModule {
	return &JavaModule{}
}

// Name returns the module name
func (m *JavaModule) Name() string {
	return "java"
}

// Description returns the module description
func (m *JavaModule) Description() string {
	return "Collects the JVM version used to run workers"
}

// IsAvailable checks if java is on the PATH
func (m *JavaModule) IsAvailable(ctx context.Context, executor CommandExecutor) bool {
	_, err := executor.Execute(ctx, "command -v java")
	return err == nil
}

// Collect gathers the JVM version. java -version prints to stderr.
func (m *JavaModule) Collect(ctx context.Context, executor CommandExecutor) (any, error) {
	output, err := executor.Execute(ctx, "java -version 2>&1 | head -2")
	if err != nil {
		return nil, err
	}
	return parseJavaVersion(output), nil
}

// parseJavaVersion turns `openjdk version "17.0.2" 2022-01-18` into
// "openjdk 17.0.2".
func parseJavaVersion(output string) *JavaInfo {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	info := &JavaInfo{}
	if len(lines) == 0 {
		return info
	}

	first := strings.TrimSpace(lines[0])
	vendor, rest, found := strings.Cut(first, " version ")
	if found {
		version := rest
		if start := strings.IndexByte(rest, '"'); start >= 0 {
			if end := strings.IndexByte(rest[start+1:], '"'); end >= 0 {
				version = rest[start+1 : start+1+end]
			}
		}
		info.Version = vendor + " " + version
	} else {
		info.Version = first
	}
	if len(lines) > 1 {
		info.Runtime = strings.TrimSpace(lines[1])
	}
	return info
}

// Auto-register this module
func init() {
	RegisterModule("java", func() Module {
		return NewJavaModule()
	})
}
