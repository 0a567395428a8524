package config

import (
	"fmt"
	"strings"
	"text/template"

	"loadsim/worker"
)

// Commands are the shell templates the coordinator runs on agents. They
// use text/template syntax; the quote function shell-quotes a value.
type Commands struct {
	Install  string `yaml:"install"`
	Download string `yaml:"download"`
	TestRun  string `yaml:"test_run"`
	TestStop string `yaml:"test_stop"`
	Script   string `yaml:"script"`
}

const (
	CommandInstall  = "install"
	CommandDownload = "download"
	CommandTestRun  = "test_run"
	CommandTestStop = "test_stop"
	CommandScript   = "script"
)

var defaultCommands = Commands{
	Install:  `{{.Home}}/bin/install {{quote .VersionSpec}}`,
	Download: `tar -C {{quote .Home}} -cf - .`,
	TestRun: `{{.Home}}/bin/test-run --worker {{.Worker}} --pid "$(cat {{.PidFile}})" --test {{quote .Test}} --class {{quote .Class}}` +
		` --duration {{.DurationSeconds}} --warmup {{.WarmupSeconds}} --verify={{.Verify}} --fail-fast={{.FailFast}}` +
		`{{range $k, $v := .Properties}} --property {{quote (printf "%s=%s" $k $v)}}{{end}}`,
	TestStop: `{{.Home}}/bin/test-stop --worker {{.Worker}} --pid "$(cat {{.PidFile}})" --test {{quote .Test}}`,
	Script:   `{{.Home}}/bin/worker-script --worker {{.Worker}} --pid "$(cat {{.PidFile}})" {{quote .Script}}`,
}

func (c *Commands) applyDefaults() {
	if c.Install == "" {
		c.Install = defaultCommands.Install
	}
	if c.Download == "" {
		c.Download = defaultCommands.Download
	}
	if c.TestRun == "" {
		c.TestRun = defaultCommands.TestRun
	}
	if c.TestStop == "" {
		c.TestStop = defaultCommands.TestStop
	}
	if c.Script == "" {
		c.Script = defaultCommands.Script
	}
}

// Templates is the parsed form of Commands
type Templates struct {
	root *template.Template
}

// Templates parses every command template
func (c Commands) Templates() (*Templates, error) {
	root := template.New("commands").Funcs(template.FuncMap{
		"quote": worker.ShellQuote,
	}).Option("missingkey=error")

	for name, text := range map[string]string{
		CommandInstall:  c.Install,
		CommandDownload: c.Download,
		CommandTestRun:  c.TestRun,
		CommandTestStop: c.TestStop,
		CommandScript:   c.Script,
	} {
		if _, err := root.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("commands.%s: %w", name, err)
		}
	}
	return &Templates{root: root}, nil
}

// Render executes the named command template with data
func (t *Templates) Render(name string, data any) (string, error) {
	tmpl := t.root.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown command template %q", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s command: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
