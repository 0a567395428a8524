package coordinator

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"

	"loadsim/ssh"
)

var workerPattern = regexp.MustCompile(`C_A\d+_W\d+`)

// fakeAgent plays an agent machine. Worker sessions stay open until a
// kill script for the worker arrives or the session context ends.
type fakeAgent struct {
	host string

	mu       sync.Mutex
	commands []string
	sessions map[string]chan *ssh.Result
	closed   bool

	// respond, when set, answers a command before the defaults apply
	respond func(ctx context.Context, command string) *ssh.Result

	archive string
}

func newFakeAgent(host string) *fakeAgent {
	return &fakeAgent{
		host:     host,
		sessions: make(map[string]chan *ssh.Result),
	}
}

func (f *fakeAgent) record(command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
}

func (f *fakeAgent) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeAgent) CommandsContaining(s string) []string {
	var matching []string
	for _, c := range f.Commands() {
		if strings.Contains(c, s) {
			matching = append(matching, c)
		}
	}
	return matching
}

func (f *fakeAgent) ExecuteCommand(ctx context.Context, command string) (*ssh.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.record(command)

	if f.respond != nil {
		if result := f.respond(ctx, command); result != nil {
			return result, nil
		}
	}

	isScript := strings.HasPrefix(command, "cd ") || strings.Contains(command, "/bin/worker-script ")
	if isScript && (strings.Contains(command, "kill") || strings.Contains(command, "exit")) {
		f.exit(workerPattern.FindString(command), &ssh.Result{ExitCode: 143, Error: "Process exited with status 143"})
	}
	return &ssh.Result{Output: "ok\n"}, nil
}

func (f *fakeAgent) ExecuteCommandAsync(ctx context.Context, command string) (<-chan *ssh.Result, error) {
	f.record(command)

	worker := workerPattern.FindString(command)
	results := make(chan *ssh.Result, 1)

	f.mu.Lock()
	f.sessions[worker] = results
	f.mu.Unlock()

	context.AfterFunc(ctx, func() {
		f.exit(worker, &ssh.Result{Error: "session closed"})
	})
	return results, nil
}

// exit ends the session of worker with result
func (f *fakeAgent) exit(worker string, result *ssh.Result) {
	f.mu.Lock()
	results, ok := f.sessions[worker]
	delete(f.sessions, worker)
	f.mu.Unlock()

	if ok {
		results <- result
		close(results)
	}
}

func (f *fakeAgent) StreamCommand(ctx context.Context, command string, w io.Writer) error {
	f.record(command)
	_, err := io.WriteString(w, f.archive)
	return err
}

func (f *fakeAgent) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAgent) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
