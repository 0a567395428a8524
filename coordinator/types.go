package coordinator

import (
	"context"
	"io"

	"loadsim/config"
	"loadsim/envinfo"
	"loadsim/registry"
	"loadsim/ssh"
)

// AgentConn is the command channel to one agent machine. *ssh.Client
// implements it.
type AgentConn interface {
	ExecuteCommand(ctx context.Context, command string) (*ssh.Result, error)
	ExecuteCommandAsync(ctx context.Context, command string) (<-chan *ssh.Result, error)
	StreamCommand(ctx context.Context, command string, w io.Writer) error
	Close() error
}

// Dialer opens the connection to a configured agent.
type Dialer func(ctx context.Context, agent config.AgentConfig) (AgentConn, error)

// SSHDialer connects to the agent with its merged ssh settings.
func SSHDialer(ctx context.Context, agent config.AgentConfig) (AgentConn, error) {
	client := ssh.NewClient(agent.SSH)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

type agentState struct {
	agent registry.Agent
	conn  AgentConn
	info  *envinfo.AgentInfo
}

// workerHandle follows one worker process. result is written before
// exited is closed.
type workerHandle struct {
	worker registry.Worker
	exited chan struct{}
	result *ssh.Result
}

// startOptions override the configured worker settings for one start.
type startOptions struct {
	VersionSpec string
	VMOptions   string
	Config      string
}
