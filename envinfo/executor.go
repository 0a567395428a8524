package envinfo

import (
	"context"
	"fmt"

	"loadsim/ssh"
)

// Runner is the part of an agent connection the remote executor needs.
type Runner interface {
	ExecuteCommand(ctx context.Context, command string) (*ssh.Result, error)
}

// RemoteExecutor executes commands on an agent
type RemoteExecutor struct {
	runner Runner
}

// NewRemoteExecutor creates a new remote command executor
func NewRemoteExecutor(runner Runner) *RemoteExecutor {
	return &RemoteExecutor{
		runner: runner,
	}
}

// Execute runs a command on the agent
func (e *RemoteExecutor) Execute(ctx context.Context, command string) (string, error) {
	result, err := e.runner.ExecuteCommand(ctx, command)
	if err != nil {
		return "", err
	}

	if result.ExitCode != 0 {
		return "", fmt.Errorf("command failed with exit code %d: %s", result.ExitCode, result.Error)
	}

	return result.Output, nil
}
