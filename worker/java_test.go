package worker

import (
	"strings"
	"testing"

	"loadsim/address"
)

func TestJavaLauncher_BuildCommand(t *testing.T) {
	tests := []struct {
		name       string
		workerType string
		path       string
		spec       Spec
		expected   string
	}{
		{
			name:       "member with defaults",
			workerType: "member",
			spec: Spec{
				Address: address.Worker(1, 1),
				Home:    "/home/sim/workers",
			},
			expected: "mkdir -p /home/sim/workers/C_A1_W1 && cd /home/sim/workers/C_A1_W1" +
				" && echo $$ > worker.pid && exec java -DworkerAddress=C_A1_W1 -DworkerType=member" +
				" com.hazelcast.simulator.worker.MemberWorker",
		},
		{
			name:       "client with options and version",
			workerType: "javaclient",
			spec: Spec{
				Address:     address.Worker(3, 2),
				Home:        "w",
				VersionSpec: "maven=3.7",
				VMOptions:   "-Xmx2g -XX:+UseG1GC",
			},
			expected: "mkdir -p w/C_A3_W2 && cd w/C_A3_W2" +
				" && echo $$ > worker.pid && exec java -Xmx2g -XX:+UseG1GC" +
				" -DworkerAddress=C_A3_W2 -DworkerType=javaclient -DversionSpec=maven=3.7" +
				" com.hazelcast.simulator.worker.ClientWorker",
		},
		{
			name:       "custom java with config and env",
			workerType: "litemember",
			path:       "/usr/lib/jvm/bin/java",
			spec: Spec{
				Address: address.Worker(1, 4),
				Home:    "w",
				Config:  "lite=true",
				Env:     map[string]string{"JAVA_HOME": "/usr/lib/jvm"},
			},
			expected: "mkdir -p w/C_A1_W4 && cd w/C_A1_W4 && printf '%s' lite=true > worker.conf" +
				" && echo $$ > worker.pid && exec JAVA_HOME=/usr/lib/jvm /usr/lib/jvm/bin/java" +
				" -DworkerAddress=C_A1_W4 -DworkerType=litemember" +
				" com.hazelcast.simulator.worker.MemberWorker worker.conf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher, err := CreateWithPath(tt.workerType, tt.path)
			if err != nil {
				t.Fatalf("Failed to create launcher: %v", err)
			}
			result := launcher.BuildCommand(tt.spec)
			if result != tt.expected {
				t.Errorf("BuildCommand() =\n%q\nexpected\n%q", result, tt.expected)
			}
		})
	}
}

func TestJavaLauncher_ConfigIsQuoted(t *testing.T) {
	launcher := NewJavaLauncher("member", 0, "Main", "")
	cmd := launcher.BuildCommand(Spec{
		Address: address.Worker(1, 1),
		Config:  "a b\n'c'",
	})

	if !strings.Contains(cmd, `printf '%s' 'a b`) {
		t.Errorf("Expected config to be single quoted, got %q", cmd)
	}
	if !strings.Contains(cmd, `'"'"'c'"'"'`) {
		t.Errorf("Expected embedded quotes to be escaped, got %q", cmd)
	}
}

func TestJavaLauncher_Validate(t *testing.T) {
	launcher := NewJavaLauncher("member", 0, "Main", "")

	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"worker address", Spec{Address: address.Worker(1, 1)}, false},
		{"agent address", Spec{Address: address.Agent(1)}, true},
		{"test address", Spec{Address: address.Test(1, 1, 1)}, true},
		{"wildcard worker", Spec{Address: address.MustParse("C_A1_W*")}, true},
		{"vm options injection", Spec{Address: address.Worker(1, 1), VMOptions: "-Xmx1g; rm -rf /"}, true},
		{"bad env name", Spec{Address: address.Worker(1, 1), Env: map[string]string{"1BAD": "x"}}, true},
		{"good env name", Spec{Address: address.Worker(1, 1), Env: map[string]string{"JAVA_OPTS": "x"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := launcher.Validate(tt.spec)
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
