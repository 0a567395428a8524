package worker

import (
	"strings"
	"testing"
)

func TestBuildEnvPrefix(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected string
	}{
		{
			name:     "no environment variables",
			env:      nil,
			expected: "",
		},
		{
			name:     "empty environment map",
			env:      map[string]string{},
			expected: "",
		},
		{
			name:     "single environment variable",
			env:      map[string]string{"JAVA_HOME": "/usr/lib/jvm"},
			expected: "JAVA_HOME=/usr/lib/jvm ",
		},
		{
			name: "multiple environment variables",
			env: map[string]string{
				"JAVA_HOME": "/usr/lib/jvm",
				"SIM_DEBUG": "1",
			},
			expected: "JAVA_HOME=/usr/lib/jvm SIM_DEBUG=1 ",
		},
		{
			name: "environment variable with spaces",
			env: map[string]string{
				"PATH": "/usr/local/bin:/usr/bin",
				"MSG":  "hello world",
			},
			expected: "MSG='hello world' PATH=/usr/local/bin:/usr/bin ",
		},
		{
			name:     "environment variable with special characters",
			env:      map[string]string{"SPECIAL": "value with $pecial chars"},
			expected: "SPECIAL='value with $pecial chars' ",
		},
		{
			name:     "environment variable with quotes",
			env:      map[string]string{"QUOTED": "value with 'quotes'"},
			expected: "QUOTED='value with '\"'\"'quotes'\"'\"'' ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildEnvPrefix(Spec{Env: tt.env})
			if result != tt.expected {
				t.Errorf("buildEnvPrefix() = %q, expected %q", result, tt.expected)
			}
		})
	}
}

func TestEnvironmentVariableOrdering(t *testing.T) {
	result := buildEnvPrefix(Spec{Env: map[string]string{
		"Z_VAR":     "last",
		"A_VAR":     "first",
		"JAVA_HOME": "/usr/lib/jvm",
		"M_VAR":     "middle",
	}})

	expectedOrder := []string{"A_VAR=first", "JAVA_HOME=/usr/lib/jvm", "M_VAR=middle", "Z_VAR=last"}
	for i, expected := range expectedOrder {
		pos := strings.Index(result, expected)
		if pos < 0 {
			t.Errorf("Environment prefix missing expected variable: %s", expected)
			continue
		}
		if i > 0 && pos < strings.Index(result, expectedOrder[i-1]) {
			t.Errorf("Environment variables are not in alphabetical order: %s should come after %s", expected, expectedOrder[i-1])
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"":            "''",
		"plain":       "plain",
		"maven=3.7":   "maven=3.7",
		"two words":   "'two words'",
		"$PID":        "'$PID'",
		"it's":        `'it'"'"'s'`,
		"C_A1_W1/x.y": "C_A1_W1/x.y",
	}
	for input, expected := range tests {
		if got := ShellQuote(input); got != expected {
			t.Errorf("ShellQuote(%q) = %q, expected %q", input, got, expected)
		}
	}
}
