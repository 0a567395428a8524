package worker

import (
	"sort"
	"strings"
)

// buildEnvPrefix renders the start environment as a sorted VAR=value prefix
func buildEnvPrefix(spec Spec) string {
	if len(spec.Env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(spec.Env))
	for key := range spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(shellQuote(spec.Env[key]))
		b.WriteByte(' ')
	}
	return b.String()
}

// shellQuote single-quotes s unless it only holds characters the shell
// passes through unchanged.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ShellQuote is shellQuote for callers building agent side scripts.
func ShellQuote(s string) string {
	return shellQuote(s)
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("/._-,:=+@%", r)
}

func isEnvName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
