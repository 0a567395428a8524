// Package output renders layouts and operation results for people.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"loadsim/envinfo"
	"loadsim/protocol"
	"loadsim/registry"
)

// Formatter handles result output formatting
type Formatter struct {
	colored    bool
	jsonOutput bool
}

// NewFormatter creates a new output formatter. Colors are only used when
// colored is set and the terminal supports them.
func NewFormatter(colored, jsonOutput bool) *Formatter {
	return &Formatter{
		colored:    colored && !color.NoColor,
		jsonOutput: jsonOutput,
	}
}

// AgentView is one agent with its environment and running workers
type AgentView struct {
	Agent   registry.Agent
	Info    *envinfo.AgentInfo
	Workers []registry.Worker
}

func (f *Formatter) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !f.colored {
		c.DisableColor()
	}
	return c
}

// WriteLayout renders the agents and their workers
func (f *Formatter) WriteLayout(w io.Writer, agents []AgentView) error {
	if f.jsonOutput {
		return f.writeJSON(w, agents)
	}

	heading := f.paint(color.Bold)
	dim := f.paint(color.Faint)

	total := 0
	for _, a := range agents {
		total += len(a.Workers)
	}
	heading.Fprintf(w, "Layout: %d agents, %d workers\n", len(agents), total)

	for _, a := range agents {
		heading.Fprintf(w, "%s", a.Agent.Address)
		fmt.Fprintf(w, " %s", a.Agent.PublicAddress)
		if a.Agent.PrivateAddress != "" && a.Agent.PrivateAddress != a.Agent.PublicAddress {
			fmt.Fprintf(w, " (%s)", a.Agent.PrivateAddress)
		}
		fmt.Fprintln(w)
		if summary := a.Info.Summary(); summary != "" {
			dim.Fprintf(w, "    %s\n", summary)
		}
		if len(a.Workers) == 0 {
			dim.Fprintln(w, "    no workers")
			continue
		}
		for _, wk := range a.Workers {
			fmt.Fprintf(w, "    %-12s %-6s %-10s %s\n", wk.Address, wk.Role, wk.Type, wk.VersionSpec)
		}
	}
	return nil
}

// WriteResult prints the outcome of a remote operation: the summarized
// result, or every part when allParts is set.
func (f *Formatter) WriteResult(w io.Writer, response *protocol.Response, allParts bool) error {
	if f.jsonOutput {
		if err := f.writeJSON(w, response); err != nil {
			return err
		}
		_, err := protocol.Summarize(response)
		return err
	}

	if allParts && response != nil {
		for _, part := range response.Parts {
			f.writePart(w, part)
		}
	}

	result, err := protocol.Summarize(response)
	if err != nil {
		return err
	}
	if !allParts {
		fmt.Fprintln(w, strings.TrimRight(result, "\n"))
	}
	return nil
}

func (f *Formatter) writePart(w io.Writer, part protocol.Part) {
	status := f.getStatusString(part.Type)
	fmt.Fprintf(w, "%s %s", status, part.Source)
	if text := strings.TrimRight(part.PayloadText(), "\n"); text != "" {
		if strings.Contains(text, "\n") {
			fmt.Fprintf(w, "\n%s", text)
		} else {
			fmt.Fprintf(w, " %s", text)
		}
	}
	fmt.Fprintln(w)
}

// WriteError prints err the way the CLI reports failures
func (f *Formatter) WriteError(w io.Writer, err error) {
	f.paint(color.FgRed, color.Bold).Fprint(w, "error: ")
	fmt.Fprintln(w, err)
}

// getStatusString returns a colored status marker
func (f *Formatter) getStatusString(t protocol.PartType) string {
	if !t.IsError() {
		return f.paint(color.FgGreen).Sprint("✓")
	}
	return f.paint(color.FgRed).Sprintf("✗ %s", t)
}

func (f *Formatter) writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
