// Package executor runs commands on the login node and across the fleet.
//
// Single-host calls execute one command line through a fresh session.
// Fan-out calls wrap the inner command in one multiplexer invocation on the
// login node, so parallelism across hosts happens remotely and every call is
// still exactly one blocking exec.
package executor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/config"
	"github.com/eugenetaranov/fleetcmd/internal/connector"
	"github.com/eugenetaranov/fleetcmd/internal/demux"
	"github.com/eugenetaranov/fleetcmd/internal/metrics"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Sessions opens a scoped session. *session.Manager implements it.
type Sessions interface {
	With(ctx context.Context, fn func(connector.Connector) error) error
}

// Executor runs commands through sessions.
type Executor struct {
	sessions      Sessions
	multiplexer   string
	fanOutTimeout int
	log           zerolog.Logger
	metrics       *metrics.Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithMultiplexer sets the fan-out binary on the login node.
func WithMultiplexer(name string) Option {
	return func(e *Executor) {
		e.multiplexer = name
	}
}

// WithFanOutTimeout sets the per-host multiplexer timeout in seconds. Zero keeps the multiplexer default.
func WithFanOutTimeout(seconds int) Option {
	return func(e *Executor) {
		e.fanOutTimeout = seconds
	}
}

// WithLogger sets the call logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// WithMetrics records calls on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Executor) {
		e.metrics = r
	}
}

// FromEndpoint returns the options carried by an endpoint configuration.
func FromEndpoint(ep *config.Endpoint) []Option {
	return []Option{
		WithMultiplexer(ep.Multiplexer),
		WithFanOutTimeout(ep.FanOutTimeout),
	}
}

// New creates an executor.
func New(sessions Sessions, opts ...Option) *Executor {
	e := &Executor{
		sessions:    sessions,
		multiplexer: config.DefaultMultiplexer,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session is one open channel shared by several commands of a single call.
type Session struct {
	ctx  context.Context
	conn connector.Connector
	log  zerolog.Logger
}

// Exec validates and runs cmd, returning raw output with stderr behind the delimiter.
func (s *Session) Exec(cmd command.Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	return execRaw(s.ctx, s.conn, cmd.String(), s.log)
}

// WithSession opens one session for fn. Used by tools that need several
// commands and must not pay for one connection each.
func (e *Executor) WithSession(ctx context.Context, fn func(*Session) error) error {
	return e.sessions.With(ctx, func(conn connector.Connector) error {
		return fn(&Session{ctx: ctx, conn: conn, log: e.log})
	})
}

// Exec runs one already-rendered command line and returns its raw output.
// Stderr, when not blank, follows stdout behind result.StderrDelimiter.
// The exit status is logged but never turned into an error.
func (e *Executor) Exec(ctx context.Context, line string) (string, error) {
	var raw string
	err := e.sessions.With(ctx, func(conn connector.Connector) error {
		var err error
		raw, err = execRaw(ctx, conn, line, e.log)
		return err
	})
	return raw, err
}

func execRaw(ctx context.Context, conn connector.Connector, line string, log zerolog.Logger) (string, error) {
	res, err := conn.Execute(ctx, line)
	if err != nil {
		return "", err
	}
	log.Debug().Int("exit_code", res.ExitCode).Str("target", conn.String()).Msg("command finished")
	return result.JoinStderr(res.Stdout, res.Stderr), nil
}

// Run executes cmd on the login node.
// A ValidationError is returned before anything is sent; transport failures
// become an unsuccessful result.
func (e *Executor) Run(ctx context.Context, cmd command.Command) (*result.Result, error) {
	start := time.Now()
	log := e.callLogger(metrics.ModeSingle)

	if err := cmd.Validate(); err != nil {
		e.metrics.ObserveCall(metrics.ModeSingle, metrics.OutcomeInvalid, time.Since(start))
		return nil, err
	}

	line := cmd.String()
	log.Debug().Str("command", line).Msg("executing")

	raw, err := e.Exec(ctx, line)
	if err != nil {
		e.metrics.ObserveCall(metrics.ModeSingle, metrics.OutcomeTransport, time.Since(start))
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("call failed")
		return result.Failure(line, err), nil
	}

	r := result.Single(line, raw)
	if _, stderr := result.SplitStderr(raw); stderr != "" {
		if phrase, ok := result.DetectRemoteError(stderr); ok {
			e.metrics.ObserveRemoteError(phrase)
			r.WithMeta("remote_error", phrase)
		}
	}

	e.metrics.ObserveCall(metrics.ModeSingle, metrics.OutcomeSuccess, time.Since(start))
	log.Info().Dur("duration", time.Since(start)).Int("lines", len(r.Lines)).Msg("call finished")
	return r, nil
}

// FanOut runs spec on every host through the multiplexer.
func (e *Executor) FanOut(ctx context.Context, hosts []string, spec command.Spec) (*result.Result, error) {
	return e.FanOutCommand(ctx, hosts, spec)
}

// FanOutCommand runs inner on every host through the multiplexer.
// Hosts appear in the result in the order the multiplexer finished them.
func (e *Executor) FanOutCommand(ctx context.Context, hosts []string, inner command.Command) (*result.Result, error) {
	start := time.Now()
	log := e.callLogger(metrics.ModeFanOut).With().Int("hosts", len(hosts)).Logger()

	outer, err := e.BuildFanOutCommand(hosts, inner)
	if err != nil {
		e.metrics.ObserveCall(metrics.ModeFanOut, metrics.OutcomeInvalid, time.Since(start))
		return nil, err
	}

	line := outer.String()
	log.Debug().Str("command", line).Msg("executing")

	raw, err := e.Exec(ctx, line)
	if err != nil {
		e.metrics.ObserveCall(metrics.ModeFanOut, metrics.OutcomeTransport, time.Since(start))
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("call failed")
		r := result.Failure(line, err)
		r.Summary.Error = err.Error()
		return r, nil
	}

	stdout, stderr := result.SplitStderr(raw)
	blocks := demux.Parse(stdout)
	r := result.Multi(line, raw, blocks)

	failed := 0
	for _, b := range blocks {
		if !b.OK() {
			failed++
		}
	}

	// Nothing came back from any host, so the multiplexer itself failed.
	if len(blocks) == 0 && strings.TrimSpace(stderr) != "" {
		msg := "multiplexer error: " + strings.TrimSpace(stderr)
		r.Summary.Error = msg
		r.Fail(msg)
	}

	e.metrics.ObserveHosts(len(blocks), failed)
	e.metrics.ObserveCall(metrics.ModeFanOut, metrics.OutcomeSuccess, time.Since(start))
	log.Info().
		Dur("duration", time.Since(start)).
		Int("queried", len(blocks)).
		Int("failed", failed).
		Msg("call finished")

	return r, nil
}

// BuildFanOutCommand wraps inner in one multiplexer invocation:
//
//	parallel-ssh -i [-t N] -H '<h1 h2 ...>' '<inner>'
//
// The inner command line is passed as a single quoted argument and is
// therefore rendered once here and quoted again for the login node shell.
func (e *Executor) BuildFanOutCommand(hosts []string, inner command.Command) (command.Spec, error) {
	if err := command.ValidateHosts(hosts); err != nil {
		return command.Spec{}, err
	}
	if inner == nil {
		return command.Spec{}, command.Invalid("command", "missing inner command")
	}
	if err := inner.Validate(); err != nil {
		return command.Spec{}, err
	}

	args := []string{"-i"}
	if e.fanOutTimeout > 0 {
		args = append(args, "-t", strconv.Itoa(e.fanOutTimeout))
	}
	args = append(args, "-H", strings.Join(hosts, " "), inner.String())

	outer := command.New(e.multiplexer, args...)
	if err := outer.Validate(); err != nil {
		return command.Spec{}, err
	}
	return outer, nil
}

// IsValidation reports whether err was raised before any remote call.
func IsValidation(err error) bool {
	var verr *command.ValidationError
	return errors.As(err, &verr)
}

func (e *Executor) callLogger(mode string) zerolog.Logger {
	return e.log.With().Str("call_id", uuid.NewString()).Str("mode", mode).Logger()
}
