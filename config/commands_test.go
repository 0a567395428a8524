package config

import (
	"strings"
	"testing"
)

func TestTemplates_RenderDefaults(t *testing.T) {
	var commands Commands
	commands.applyDefaults()

	templates, err := commands.Templates()
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}

	install, err := templates.Render(CommandInstall, map[string]any{
		"Home":        "/opt/sim",
		"VersionSpec": "maven=3.7",
	})
	if err != nil {
		t.Fatalf("Failed to render install: %v", err)
	}
	if install != "/opt/sim/bin/install maven=3.7" {
		t.Errorf("Unexpected install command %q", install)
	}

	script, err := templates.Render(CommandScript, map[string]any{
		"Home":    "/opt/sim",
		"Worker":  "C_A1_W1",
		"PidFile": "/opt/sim/C_A1_W1/worker.pid",
		"Script":  "js:java.lang.System.exit(0);",
	})
	if err != nil {
		t.Fatalf("Failed to render script: %v", err)
	}
	if !strings.Contains(script, "'js:java.lang.System.exit(0);'") {
		t.Errorf("Expected quoted script, got %q", script)
	}
	if !strings.Contains(script, `"$(cat /opt/sim/C_A1_W1/worker.pid)"`) {
		t.Errorf("Expected pid lookup, got %q", script)
	}
}

func TestTemplates_RenderProperties(t *testing.T) {
	templates, err := Commands{TestRun: `run{{range $k, $v := .Properties}} {{$k}}={{$v}}{{end}}`}.Templates()
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}

	got, err := templates.Render(CommandTestRun, map[string]any{
		"Properties": map[string]string{"b": "2", "a": "1"},
	})
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}
	if got != "run a=1 b=2" {
		t.Errorf("Expected sorted properties, got %q", got)
	}
}

func TestTemplates_UnknownName(t *testing.T) {
	templates, err := Commands{}.Templates()
	if err != nil {
		t.Fatalf("Failed to parse templates: %v", err)
	}
	if _, err := templates.Render("reboot", nil); err == nil {
		t.Error("Expected error for unknown template")
	}
}
