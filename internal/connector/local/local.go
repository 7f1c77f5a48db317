// Package local provides a connector for executing commands on the machine fleetcmd runs on.
//
// It is used when fleetcmd itself is deployed on the login node, and by tests
// that need a real POSIX shell behind the connector interface.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"

	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

// Connector executes commands through a local shell.
type Connector struct {
	shell     string
	shellArgs []string
	env       []string
}

// Option configures the local connector.
type Option func(*Connector)

// WithShell sets a custom shell for command execution.
func WithShell(shell string, args ...string) Option {
	return func(c *Connector) {
		c.shell = shell
		c.shellArgs = args
	}
}

// WithEnv adds KEY=VALUE pairs to the command environment.
func WithEnv(kv ...string) Option {
	return func(c *Connector) {
		c.env = append(c.env, kv...)
	}
}

// New creates a new local connector using /bin/sh -c.
func New(opts ...Option) *Connector {
	c := &Connector{
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect verifies the platform has a POSIX shell.
func (c *Connector) Connect(ctx context.Context) error {
	switch runtime.GOOS {
	case "darwin", "linux", "freebsd":
	default:
		return connector.Transport("connect", c.String(), fmt.Errorf("unsupported platform: %s", runtime.GOOS))
	}

	if _, err := exec.LookPath(c.shell); err != nil {
		return connector.Transport("connect", c.String(), err)
	}
	return nil
}

// Execute runs a command locally and returns the result.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	args := append(append([]string(nil), c.shellArgs...), cmd)
	execCmd := exec.CommandContext(ctx, c.shell, args...)
	if len(c.env) > 0 {
		execCmd.Env = append(os.Environ(), c.env...)
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, connector.Transport("exec", c.String(), err)
		}
	}

	return result, nil
}

// Close is a no-op for local connections.
func (c *Connector) Close() error {
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	u, err := user.Current()
	if err != nil {
		return "local"
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return fmt.Sprintf("local://%s@%s", u.Username, hostname)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
