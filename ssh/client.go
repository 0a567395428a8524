// Package ssh runs commands on agent machines.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config represents SSH connection configuration
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path"`
	Password       string        `yaml:"password,omitempty"`
	KnownHostsPath string        `yaml:"known_hosts,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ErrNotConnected is returned when a command is run before Connect.
var ErrNotConnected = errors.New("not connected")

// Client wraps SSH client functionality. It is safe for concurrent use;
// every command runs in its own session.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

// Result represents the result of a remote command execution
type Result struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Failed reports whether the command did not exit cleanly.
func (r *Result) Failed() bool {
	return r.Error != "" || r.ExitCode != 0
}

// NewClient creates a new SSH client
func NewClient(config *Config) *Client {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 300 * time.Second
	}

	return &Client{
		config: config,
	}
}

// Address returns host:port of the remote machine.
func (c *Client) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connect establishes an SSH connection
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	var authMethods []ssh.AuthMethod

	if c.config.KeyPath != "" {
		key, err := c.loadPrivateKey(c.config.KeyPath)
		if err != nil {
			return fmt.Errorf("failed to load private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(key))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return fmt.Errorf("no authentication method provided")
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.ConnectTimeout,
	}

	address := c.Address()
	conn, err := c.dialWithContext(ctx, "tcp", address, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c.client = conn
	return nil
}

// hostKeyCallback verifies against known_hosts when configured. Agent
// machines are usually short-lived cloud instances without stable keys,
// so verification is opt-in.
func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := expandHome(c.config.KnownHostsPath)
	if err != nil {
		return nil, err
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return callback, nil
}

func (c *Client) session() (*ssh.Session, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil, ErrNotConnected
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ExecuteCommand runs a command on the remote host
func (c *Client) ExecuteCommand(ctx context.Context, command string) (*Result, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	cmdCtx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	done := make(chan *Result, 1)

	go func() {
		output, err := session.CombinedOutput(command)
		done <- newResult(string(output), err)
	}()

	select {
	case result := <-done:
		if result.Error != "" && result.ExitCode == 0 {
			return result, errors.New(result.Error)
		}
		return result, nil
	case <-cmdCtx.Done():
		session.Close()
		return nil, fmt.Errorf("command timed out: %w", cmdCtx.Err())
	}
}

// StreamCommand runs a command and copies its standard output to w.
// Standard error is returned in the error when the command fails.
func (c *Client) StreamCommand(ctx context.Context, command string, w io.Writer) error {
	session, err := c.session()
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr limitedBuffer
	session.Stdout = w
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s", err, stderr.String())
		}
		return nil
	case <-ctx.Done():
		session.Close()
		return fmt.Errorf("command cancelled: %w", ctx.Err())
	}
}

// ExecuteCommandAsync starts a command without waiting for completion.
// The returned channel delivers the result once the command exits and
// is then closed. Cancelling ctx closes the session.
func (c *Client) ExecuteCommandAsync(ctx context.Context, command string) (<-chan *Result, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}

	output := &limitedBuffer{}
	session.Stdout = output
	session.Stderr = output

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	results := make(chan *Result, 1)
	stop := context.AfterFunc(ctx, func() {
		session.Close()
	})

	go func() {
		defer close(results)
		defer stop()
		err := session.Wait()
		session.Close()
		results <- newResult(output.String(), err)
	}()

	return results, nil
}

func newResult(output string, err error) *Result {
	result := &Result{Output: output}
	if err != nil {
		result.Error = err.Error()
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		}
	}
	return result
}

// Config returns the SSH configuration
func (c *Client) Config() *Config {
	return c.config
}

// Close closes the SSH connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// loadPrivateKey loads a private key from file
func (c *Client) loadPrivateKey(keyPath string) (ssh.Signer, error) {
	keyPath, err := expandHome(keyPath)
	if err != nil {
		return nil, err
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	return ssh.ParsePrivateKey(keyData)
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// dialWithContext provides context-aware dialing
func (c *Client) dialWithContext(ctx context.Context, network, address string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{
		Timeout: config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// maxCapturedOutput bounds the output kept for long running commands
// such as workers.
const maxCapturedOutput = 64 * 1024

// limitedBuffer keeps the last maxCapturedOutput bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxCapturedOutput; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
