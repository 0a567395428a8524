package coordinator

import (
	"strings"

	"loadsim/address"
	"loadsim/config"
	"loadsim/protocol"
	"loadsim/registry"
	"loadsim/worker"
)

// bashPrefix marks scripts run by the agent shell instead of the worker.
// $PID in such a script is the worker process id.
const bashPrefix = "bash:"

// CommandBuilder constructs command lines for remote execution
type CommandBuilder struct {
	home      string
	templates *config.Templates
}

// NewCommandBuilder creates a command builder for workers below home
func NewCommandBuilder(home string, templates *config.Templates) *CommandBuilder {
	return &CommandBuilder{home: home, templates: templates}
}

// Install returns the command installing versionSpec on an agent
func (b *CommandBuilder) Install(versionSpec string) (string, error) {
	return b.templates.Render(config.CommandInstall, map[string]any{
		"Home":        b.home,
		"VersionSpec": versionSpec,
	})
}

// Download returns the command writing the agent artifacts as a tar
// stream to standard output
func (b *CommandBuilder) Download() (string, error) {
	return b.templates.Render(config.CommandDownload, map[string]any{
		"Home": b.home,
	})
}

// Script returns the command executing script against worker w. bash:
// scripts run in the worker directory; everything else is handed to the
// worker through the script template.
func (b *CommandBuilder) Script(w address.Address, script string) (string, error) {
	pidFile := worker.PidFile(b.home, w)
	if body, ok := strings.CutPrefix(script, bashPrefix); ok {
		body = strings.ReplaceAll(body, "$PID", `"$(cat `+worker.ShellQuote(pidFile)+`)"`)
		return "cd " + worker.ShellQuote(worker.Dir(b.home, w)) + " && " + body, nil
	}
	return b.templates.Render(config.CommandScript, map[string]any{
		"Home":    b.home,
		"Worker":  w.String(),
		"PidFile": pidFile,
		"Script":  script,
	})
}

// TestRun returns the command running test on worker w
func (b *CommandBuilder) TestRun(suite protocol.TestSuite, test registry.Test, w address.Address) (string, error) {
	return b.templates.Render(config.CommandTestRun, map[string]any{
		"Home":            b.home,
		"Worker":          w.String(),
		"PidFile":         worker.PidFile(b.home, w),
		"Test":            test.Address.String(),
		"Class":           test.Case.Class,
		"DurationSeconds": suite.DurationSeconds,
		"WarmupSeconds":   suite.WarmupSeconds,
		"Verify":          suite.Verify,
		"FailFast":        suite.FailFast,
		"Properties":      test.Case.Properties,
	})
}

// TestStop returns the command stopping test on worker w
func (b *CommandBuilder) TestStop(test registry.Test, w address.Address) (string, error) {
	return b.templates.Render(config.CommandTestStop, map[string]any{
		"Home":    b.home,
		"Worker":  w.String(),
		"PidFile": worker.PidFile(b.home, w),
		"Test":    test.Address.String(),
	})
}

// PidFileCheck returns the command succeeding once w wrote its pid file
func (b *CommandBuilder) PidFileCheck(w address.Address) string {
	return "test -s " + worker.ShellQuote(worker.PidFile(b.home, w))
}
