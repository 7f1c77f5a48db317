// Package config loads and validates the login-node endpoint identity.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names for cluster access.
const (
	EnvHost           = "CLUSTER_HOST"
	EnvUser           = "CLUSTER_USER"
	EnvPrivateKey     = "CLUSTER_PRIVATE_KEY"
	EnvPort           = "CLUSTER_PORT"
	EnvTransport      = "CLUSTER_TRANSPORT"
	EnvKnownHosts     = "CLUSTER_KNOWN_HOSTS"
	EnvConnectTimeout = "CLUSTER_CONNECT_TIMEOUT"
	EnvMultiplexer    = "CLUSTER_MULTIPLEXER"
	EnvFanOutTimeout  = "CLUSTER_FANOUT_TIMEOUT"
	EnvShell          = "CLUSTER_SHELL"
	EnvWorkdir        = "CLUSTER_WORKDIR"
	EnvDockerBinary   = "CLUSTER_DOCKER_BINARY"
)

// Supported transports.
const (
	TransportSSH    = "ssh"
	TransportLocal  = "local"
	TransportDocker = "docker"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 30 * time.Second
	DefaultMultiplexer    = "parallel-ssh"
)

var (
	// ErrMissing marks a required setting that was not provided.
	ErrMissing = errors.New("missing required setting")
	// ErrInvalid marks a setting that was provided but cannot be used.
	ErrInvalid = errors.New("invalid setting")
)

// Error describes a configuration problem with a single setting.
type Error struct {
	Setting string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Setting)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Setting, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func missing(setting string) *Error {
	return &Error{Setting: setting, Err: ErrMissing}
}

func invalid(setting, format string, args ...any) *Error {
	return &Error{Setting: setting, Detail: fmt.Sprintf(format, args...), Err: ErrInvalid}
}

// Endpoint is the identity used to reach the managed fleet.
type Endpoint struct {
	// Host is the login node (or container name for the docker transport).
	Host string `yaml:"host"`

	// User is the login user.
	User string `yaml:"user"`

	// KeyPath is an optional private key file. Agent and default keys are used when empty.
	KeyPath string `yaml:"private_key"`

	// Port is the SSH port.
	Port int `yaml:"port"`

	// Transport selects how the login node is reached (ssh, local, docker).
	Transport string `yaml:"transport"`

	// KnownHostsPath enables strict host key checking against this file.
	KnownHostsPath string `yaml:"known_hosts"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"-"`

	// Multiplexer is the fan-out binary on the login node.
	Multiplexer string `yaml:"multiplexer"`

	// FanOutTimeout is passed to the multiplexer in seconds; zero keeps its default.
	FanOutTimeout int `yaml:"fanout_timeout"`

	// Shell runs commands for the local transport (default /bin/sh).
	Shell string `yaml:"shell"`

	// Workdir is the working directory inside the container for the docker transport.
	Workdir string `yaml:"workdir"`

	// DockerBinary is the docker CLI used by the docker transport.
	DockerBinary string `yaml:"docker_binary"`

	// Env is added to the command environment of the local and docker transports.
	// Over ssh the server decides which variables a session may set, so it is not sent.
	Env map[string]string `yaml:"env"`
}

// Options controls where settings are read from.
type Options struct {
	// File is an optional YAML file.
	File string

	// EnvFile is an optional dotenv file. A missing file is ignored unless EnvFileRequired.
	EnvFile         string
	EnvFileRequired bool

	// Getenv overrides os.Getenv (mainly for tests).
	Getenv func(string) string
}

// Load reads the endpoint from the YAML file, the dotenv file and the process
// environment, in increasing order of precedence, then validates it.
func Load(opts Options) (*Endpoint, error) {
	ep := &Endpoint{}

	if opts.File != "" {
		if err := loadYAML(opts.File, ep); err != nil {
			return nil, err
		}
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = values
		case errors.Is(err, os.ErrNotExist) && !opts.EnvFileRequired:
		default:
			return nil, invalid("env file", "%s: %v", opts.EnvFile, err)
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookup := func(key string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(dotenv[key])
	}

	if err := applyEnv(ep, lookup); err != nil {
		return nil, err
	}

	ep.setDefaults()

	if err := ep.Validate(); err != nil {
		return nil, err
	}

	return ep, nil
}

func loadYAML(path string, ep *Endpoint) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return invalid("config file", "%s: %v", path, err)
	}

	var raw struct {
		Endpoint `yaml:",inline"`
		Timeout  string `yaml:"connect_timeout"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return invalid("config file", "%s: %v", path, err)
	}

	*ep = raw.Endpoint
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return invalid("connect_timeout", "%q is not a duration", raw.Timeout)
		}
		ep.ConnectTimeout = d
	}
	return nil
}

func applyEnv(ep *Endpoint, lookup func(string) string) error {
	if v := lookup(EnvHost); v != "" {
		ep.Host = v
	}
	if v := lookup(EnvUser); v != "" {
		ep.User = v
	}
	if v := lookup(EnvPrivateKey); v != "" {
		ep.KeyPath = v
	}
	if v := lookup(EnvTransport); v != "" {
		ep.Transport = strings.ToLower(v)
	}
	if v := lookup(EnvKnownHosts); v != "" {
		ep.KnownHostsPath = v
	}
	if v := lookup(EnvMultiplexer); v != "" {
		ep.Multiplexer = v
	}
	if v := lookup(EnvShell); v != "" {
		ep.Shell = v
	}
	if v := lookup(EnvWorkdir); v != "" {
		ep.Workdir = v
	}
	if v := lookup(EnvDockerBinary); v != "" {
		ep.DockerBinary = v
	}

	if v := lookup(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return invalid(EnvPort, "invalid integer %q", v)
		}
		ep.Port = port
	}

	if v := lookup(EnvConnectTimeout); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return invalid(EnvConnectTimeout, "%q is not a duration", v)
		}
		ep.ConnectTimeout = d
	}

	if v := lookup(EnvFanOutTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return invalid(EnvFanOutTimeout, "invalid integer %q", v)
		}
		ep.FanOutTimeout = secs
	}

	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (e *Endpoint) setDefaults() {
	if e.Port == 0 {
		e.Port = DefaultPort
	}
	if e.Transport == "" {
		e.Transport = TransportSSH
	}
	if e.ConnectTimeout == 0 {
		e.ConnectTimeout = DefaultConnectTimeout
	}
	if e.Multiplexer == "" {
		e.Multiplexer = DefaultMultiplexer
	}
}

// Validate checks the endpoint. Host and user are always required.
func (e *Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return missing(EnvHost)
	}
	if strings.TrimSpace(e.User) == "" {
		return missing(EnvUser)
	}

	if e.Port < 1 || e.Port > 65535 {
		return invalid(EnvPort, "port %d out of range", e.Port)
	}

	switch e.Transport {
	case TransportSSH, TransportLocal, TransportDocker:
	default:
		return invalid(EnvTransport, "unknown transport %q (must be ssh, local, or docker)", e.Transport)
	}

	if e.ConnectTimeout < 0 {
		return invalid(EnvConnectTimeout, "must not be negative")
	}
	if e.FanOutTimeout < 0 {
		return invalid(EnvFanOutTimeout, "must not be negative")
	}
	if strings.ContainsAny(e.Multiplexer, " \t\n\r") {
		return invalid(EnvMultiplexer, "must be a single command name")
	}

	for k := range e.Env {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return invalid("env", "invalid variable name %q", k)
		}
	}

	if e.KeyPath != "" {
		if _, err := os.Stat(e.KeyPath); err != nil {
			return invalid(EnvPrivateKey, "private key not found: %s", e.KeyPath)
		}
	}
	if e.KnownHostsPath != "" {
		if _, err := os.Stat(e.KnownHostsPath); err != nil {
			return invalid(EnvKnownHosts, "known hosts file not found: %s", e.KnownHostsPath)
		}
	}

	return nil
}

// Address returns host:port for network transports.
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns a description without secrets.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s://%s@%s:%d", e.Transport, e.User, e.Host, e.Port)
}
