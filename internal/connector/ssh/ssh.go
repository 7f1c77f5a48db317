// Package ssh provides a connector for executing commands on the login node over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eugenetaranov/fleetcmd/internal/config"
	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

// defaultKeyFiles are tried, in order, when no key file is configured.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// KeyFormatError is returned when a configured private key cannot be used.
type KeyFormatError struct {
	Path string
	Err  error
}

func (e *KeyFormatError) Error() string {
	var missing *gossh.PassphraseMissingError
	if errors.As(e.Err, &missing) {
		return fmt.Sprintf("encrypted private keys not supported currently: %s", e.Path)
	}
	return fmt.Sprintf("unsupported private key %s: %v", e.Path, e.Err)
}

func (e *KeyFormatError) Unwrap() error {
	return e.Err
}

// Is reports KeyFormatError as a configuration error.
func (e *KeyFormatError) Is(target error) bool {
	return target == config.ErrInvalid
}

// LoadSigner reads and parses an unencrypted private key file.
func LoadSigner(path string) (gossh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyFormatError{Path: path, Err: err}
	}
	signer, err := gossh.ParsePrivateKey(data)
	if err != nil {
		return nil, &KeyFormatError{Path: path, Err: err}
	}
	return signer, nil
}

// Connector executes commands on a remote host over one SSH client connection.
type Connector struct {
	host            string
	port            int
	user            string
	timeout         time.Duration
	signer          gossh.Signer
	hostKeyCallback gossh.HostKeyCallback

	client    *gossh.Client
	agentConn net.Conn
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithPort sets the SSH port.
func WithPort(port int) Option {
	return func(c *Connector) {
		c.port = port
	}
}

// WithTimeout bounds connection establishment.
func WithTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.timeout = d
	}
}

// WithSigner authenticates with the given key instead of the agent and default keys.
func WithSigner(signer gossh.Signer) Option {
	return func(c *Connector) {
		c.signer = signer
	}
}

// WithHostKeyCallback sets host key verification.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(c *Connector) {
		c.hostKeyCallback = cb
	}
}

// KnownHostsCallback builds strict host key checking from a known_hosts file.
func KnownHostsCallback(path string) (gossh.HostKeyCallback, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// New creates a new SSH connector. Without WithHostKeyCallback any host key is accepted.
func New(host, user string, opts ...Option) *Connector {
	c := &Connector{
		host:            host,
		port:            config.DefaultPort,
		user:            user,
		timeout:         config.DefaultConnectTimeout,
		hostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect dials the host and authenticates.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	auth, err := c.authMethods()
	if err != nil {
		return connector.Transport("connect", c.String(), err)
	}

	address := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	cfg := &gossh.ClientConfig{
		User:            c.user,
		Auth:            auth,
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         c.timeout,
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.closeAgent()
		return connector.Transport("connect", c.String(), err)
	}

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	clientConn, chans, reqs, err := gossh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		c.closeAgent()
		return connector.Transport("connect", c.String(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = gossh.NewClient(clientConn, chans, reqs)
	return nil
}

// authMethods returns the configured key, or the agent plus default key files.
func (c *Connector) authMethods() ([]gossh.AuthMethod, error) {
	if c.signer != nil {
		return []gossh.AuthMethod{gossh.PublicKeys(c.signer)}, nil
	}

	var methods []gossh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			c.agentConn = conn
			methods = append(methods, gossh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []gossh.Signer
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range defaultKeyFiles {
			data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			// Encrypted or unknown default keys are skipped, not fatal.
			if s, err := gossh.ParsePrivateKey(data); err == nil {
				signers = append(signers, s)
			}
		}
	}
	if len(signers) > 0 {
		methods = append(methods, gossh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available (no key configured, no agent, no default keys)")
	}
	return methods, nil
}

// Execute runs a command over a new SSH session on the connection.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if c.client == nil {
		return nil, connector.Transport("exec", c.String(), errors.New("not connected"))
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, connector.Transport("exec", c.String(), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, connector.Transport("exec", c.String(), ctx.Err())
	case err = <-done:
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *gossh.ExitError
		var missingErr *gossh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			result.ExitCode = -1
		default:
			return nil, connector.Transport("exec", c.String(), err)
		}
	}

	return result, nil
}

// Close terminates the connection.
func (c *Connector) Close() error {
	c.closeAgent()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Connector) closeAgent() {
	if c.agentConn != nil {
		c.agentConn.Close()
		c.agentConn = nil
	}
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("ssh://%s@%s:%d", c.user, c.host, c.port)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
