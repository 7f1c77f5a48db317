// Package connectortest provides a scripted connector for tests.
package connectortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

// Reply is one canned response.
type Reply struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Stub answers Execute calls from a table keyed by command line.
// Unknown commands exit 127 with a shell-style message on stderr.
type Stub struct {
	mu         sync.Mutex
	replies    map[string]Reply
	fallback   *Reply
	connectErr error
	commands   []string
	opened     int
	closed     int
}

// New creates an empty Stub.
func New() *Stub {
	return &Stub{replies: make(map[string]Reply)}
}

// On scripts the reply for an exact command line.
func (s *Stub) On(cmd string, r Reply) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[cmd] = r
	return s
}

// Default scripts the reply for any command without an exact match.
func (s *Stub) Default(r Reply) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &r
	return s
}

// FailConnect makes every session fail to open.
func (s *Stub) FailConnect(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
	return s
}

// Commands returns the command lines executed so far.
func (s *Stub) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// LastCommand returns the most recent command line, or "".
func (s *Stub) LastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

// Sessions returns how many sessions were opened and closed.
func (s *Stub) Sessions() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

// With implements executor.Sessions with the same close guarantee as session.Manager.
func (s *Stub) With(ctx context.Context, fn func(connector.Connector) error) error {
	s.mu.Lock()
	if s.connectErr != nil {
		err := s.connectErr
		s.mu.Unlock()
		return connector.Transport("connect", "stub://login", err)
	}
	s.opened++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.closed++
		s.mu.Unlock()
	}()

	return fn(&conn{stub: s})
}

type conn struct {
	stub *Stub
}

func (c *conn) Connect(context.Context) error { return nil }

func (c *conn) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, connector.Transport("exec", c.String(), err)
	}

	s := c.stub
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	r, ok := s.replies[cmd]
	if !ok && s.fallback != nil {
		r, ok = *s.fallback, true
	}
	s.mu.Unlock()

	if !ok {
		return &connector.Result{Stderr: fmt.Sprintf("sh: %s: command not found\n", cmd), ExitCode: 127}, nil
	}
	if r.Err != nil {
		return nil, connector.Transport("exec", c.String(), r.Err)
	}
	return &connector.Result{Stdout: r.Stdout, Stderr: r.Stderr, ExitCode: r.ExitCode}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) String() string { return "stub://login" }

var _ connector.Connector = (*conn)(nil)
