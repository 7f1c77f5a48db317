// Package session opens one authenticated channel to the login node per call.
//
// Sessions are never pooled: every Open dials a fresh connection and every
// With closes it again, whether fn returns normally, returns an error or panics.
package session

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/fleetcmd/internal/config"
	"github.com/eugenetaranov/fleetcmd/internal/connector"
	"github.com/eugenetaranov/fleetcmd/internal/connector/docker"
	"github.com/eugenetaranov/fleetcmd/internal/connector/local"
	"github.com/eugenetaranov/fleetcmd/internal/connector/ssh"
)

// Factory creates an unconnected connector.
type Factory func() connector.Connector

// Manager hands out sessions for a single endpoint.
type Manager struct {
	endpoint *config.Endpoint
	factory  Factory
	log      zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithFactory replaces the transport derived from the endpoint.
func WithFactory(f Factory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

// New validates the endpoint and prepares the transport.
// Key files and known_hosts are parsed here so that configuration problems
// surface before any remote call is attempted.
func New(ep *config.Endpoint, opts ...Option) (*Manager, error) {
	if ep == nil {
		return nil, &config.Error{Setting: config.EnvHost, Err: config.ErrMissing}
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		endpoint: ep,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.factory == nil {
		f, err := factoryFor(ep)
		if err != nil {
			return nil, err
		}
		m.factory = f
	}

	return m, nil
}

// factoryFor returns a connector constructor for the endpoint's transport.
func factoryFor(ep *config.Endpoint) (Factory, error) {
	switch ep.Transport {
	case config.TransportSSH:
		opts := []ssh.Option{
			ssh.WithPort(ep.Port),
			ssh.WithTimeout(ep.ConnectTimeout),
		}

		if ep.KeyPath != "" {
			signer, err := ssh.LoadSigner(ep.KeyPath)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ssh.WithSigner(signer))
		}

		if ep.KnownHostsPath != "" {
			cb, err := ssh.KnownHostsCallback(ep.KnownHostsPath)
			if err != nil {
				return nil, &config.Error{Setting: config.EnvKnownHosts, Detail: err.Error(), Err: config.ErrInvalid}
			}
			opts = append(opts, ssh.WithHostKeyCallback(cb))
		}

		return func() connector.Connector {
			return ssh.New(ep.Host, ep.User, opts...)
		}, nil

	case config.TransportLocal:
		var opts []local.Option
		if ep.Shell != "" {
			opts = append(opts, local.WithShell(ep.Shell, "-c"))
		}
		if len(ep.Env) > 0 {
			opts = append(opts, local.WithEnv(envPairs(ep.Env)...))
		}
		return func() connector.Connector {
			return local.New(opts...)
		}, nil

	case config.TransportDocker:
		// For docker, host is the container name/ID
		opts := []docker.Option{docker.WithUser(ep.User)}
		if ep.Workdir != "" {
			opts = append(opts, docker.WithWorkdir(ep.Workdir))
		}
		if ep.DockerBinary != "" {
			opts = append(opts, docker.WithBinary(ep.DockerBinary))
		}
		for k, v := range ep.Env {
			opts = append(opts, docker.WithEnv(k, v))
		}
		return func() connector.Connector {
			return docker.New(ep.Host, opts...)
		}, nil

	default:
		return nil, &config.Error{Setting: config.EnvTransport, Detail: ep.Transport, Err: config.ErrInvalid}
	}
}

// envPairs renders env as sorted KEY=VALUE pairs.
func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Endpoint returns the endpoint the manager connects to.
func (m *Manager) Endpoint() *config.Endpoint {
	return m.endpoint
}

// Open dials a new connected session. The caller owns it and must Close it.
func (m *Manager) Open(ctx context.Context) (connector.Connector, error) {
	conn := m.factory()
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		var terr *connector.TransportError
		if !errors.As(err, &terr) {
			err = connector.Transport("connect", conn.String(), err)
		}
		return nil, err
	}

	m.log.Debug().Str("target", conn.String()).Msg("session opened")
	return conn, nil
}

// With opens a session, passes it to fn and closes it on every exit path.
func (m *Manager) With(ctx context.Context, fn func(connector.Connector) error) (err error) {
	conn, err := m.Open(ctx)
	if err != nil {
		return err
	}

	// A close failure after fn finished does not undo output already collected.
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.log.Warn().Err(cerr).Str("target", conn.String()).Msg("session close failed")
			return
		}
		m.log.Debug().Str("target", conn.String()).Msg("session closed")
	}()

	return fn(conn)
}
