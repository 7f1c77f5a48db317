// Package docker provides a connector for a login node that runs as a Docker container.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

// Connector executes commands inside a running container with docker exec.
type Connector struct {
	container string
	user      string
	workdir   string
	env       map[string]string
	binary    string
}

// Option configures the Docker connector.
type Option func(*Connector)

// WithUser sets the user for command execution.
func WithUser(user string) Option {
	return func(c *Connector) {
		c.user = user
	}
}

// WithWorkdir sets the working directory for command execution.
func WithWorkdir(dir string) Option {
	return func(c *Connector) {
		c.workdir = dir
	}
}

// WithEnv adds an environment variable for command execution.
func WithEnv(key, value string) Option {
	return func(c *Connector) {
		c.env[key] = value
	}
}

// WithBinary overrides the docker CLI path.
func WithBinary(path string) Option {
	return func(c *Connector) {
		c.binary = path
	}
}

// New creates a new Docker connector for the specified container.
func New(container string, opts ...Option) *Connector {
	c := &Connector{
		container: container,
		env:       make(map[string]string),
		binary:    "docker",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect verifies the container exists and is running.
func (c *Connector) Connect(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return connector.Transport("connect", c.String(), fmt.Errorf("docker command not found: %w", err))
	}

	cmd := exec.CommandContext(ctx, c.binary, "inspect", "-f", "{{.State.Running}}", c.container)
	output, err := cmd.Output()
	if err != nil {
		return connector.Transport("connect", c.String(), fmt.Errorf("container '%s' not found or not accessible: %w", c.container, err))
	}

	if strings.TrimSpace(string(output)) != "true" {
		return connector.Transport("connect", c.String(), fmt.Errorf("container '%s' is not running", c.container))
	}

	return nil
}

// Execute runs a command inside the container.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	execCmd := exec.CommandContext(ctx, c.binary, c.buildExecArgs(cmd)...)

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

// buildExecArgs builds the docker exec command arguments.
func (c *Connector) buildExecArgs(cmd string) []string {
	args := []string{"exec", "-i"}

	if c.user != "" {
		args = append(args, "-u", c.user)
	}

	if c.workdir != "" {
		args = append(args, "-w", c.workdir)
	}

	// Sorted so the argument list is deterministic.
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, c.env[k]))
	}

	return append(args, c.container, "/bin/sh", "-c", cmd)
}

// Close is a no-op for Docker connections.
func (c *Connector) Close() error {
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	if c.user != "" {
		return fmt.Sprintf("docker://%s@%s", c.user, c.container)
	}
	return fmt.Sprintf("docker://%s", c.container)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
