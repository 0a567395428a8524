package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"loadsim/address"
	"loadsim/envinfo"
	"loadsim/layout"
	"loadsim/protocol"
	"loadsim/registry"
)

func TestWriteLayout(t *testing.T) {
	views := []AgentView{
		{
			Agent: registry.Agent{Address: address.Agent(1), PublicAddress: "10.0.0.1", PrivateAddress: "192.168.0.1"},
			Info: &envinfo.AgentInfo{Modules: map[string]any{
				"cpu":    &envinfo.CPUInfo{Model: "Xeon", Cores: 8, Threads: 16},
				"memory": &envinfo.MemoryInfo{TotalKB: 32 * 1024 * 1024},
			}},
			Workers: []registry.Worker{
				{Address: address.Worker(1, 1), Role: layout.RoleMember, Type: "member", VersionSpec: "maven=5.0"},
			},
		},
		{
			Agent: registry.Agent{Address: address.Agent(2), PublicAddress: "10.0.0.2"},
		},
	}

	var buf bytes.Buffer
	if err := NewFormatter(false, false).WriteLayout(&buf, views); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Layout: 2 agents, 1 workers",
		"C_A1 10.0.0.1 (192.168.0.1)",
		"16 cores Xeon, 32 GB",
		"C_A1_W1      MEMBER",
		"maven=5.0",
		"C_A2 10.0.0.2\n",
		"no workers",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteResult(t *testing.T) {
	response := protocol.NewResponse(
		protocol.SuccessPart(address.Agent(1), "done"),
		protocol.ErrorPart(address.Agent(2), protocol.ErrTimeout, "no answer"),
	)

	var summary bytes.Buffer
	err := NewFormatter(false, false).WriteResult(&summary, response, false)
	var opErr *protocol.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("Expected OperationError, got %v", err)
	}
	if summary.Len() != 0 {
		t.Errorf("Expected no summary for a failed operation, got %q", summary.String())
	}

	var parts bytes.Buffer
	NewFormatter(false, false).WriteResult(&parts, response, true)
	lines := strings.Split(strings.TrimSpace(parts.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 part lines, got %q", parts.String())
	}
	if lines[0] != "✓ C_A1 done" {
		t.Errorf("Unexpected success line %q", lines[0])
	}
	if lines[1] != "✗ timeout C_A2 no answer" {
		t.Errorf("Unexpected error line %q", lines[1])
	}
}

func TestWriteResult_JSON(t *testing.T) {
	response := protocol.NewResponse(protocol.SuccessPart(address.Coordinator(), "C_A*_W*_T1"))

	var buf bytes.Buffer
	if err := NewFormatter(false, true).WriteResult(&buf, response, false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if _, ok := decoded["Parts"]; !ok {
		t.Errorf("Expected Parts in JSON output, got %v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(false, false).WriteError(&buf, errors.New("boom"))
	if buf.String() != "error: boom\n" {
		t.Errorf("Unexpected error output %q", buf.String())
	}
}
