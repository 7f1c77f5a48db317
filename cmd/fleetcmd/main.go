// Package main is the entrypoint for the fleetcmd CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	// Import modules to register them
	_ "github.com/eugenetaranov/fleetcmd/internal/module/azure"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/command"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/facts"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/files"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/infiniband"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/slurm"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/systemd"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/config"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/logging"
	"github.com/eugenetaranov/fleetcmd/internal/metrics"
	"github.com/eugenetaranov/fleetcmd/internal/output"
	"github.com/eugenetaranov/fleetcmd/internal/result"
	"github.com/eugenetaranov/fleetcmd/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultEnvFile = ".env"

// errResultFailed is returned after an unsuccessful result has been printed.
var errResultFailed = errors.New("call failed")

// Exit codes.
const (
	exitOK         = 0
	exitFailed     = 1
	exitBadRequest = 2
)

// cli holds global flags and the shared process state.
type cli struct {
	configFile  string
	envFile     string
	logLevel    string
	logFormat   string
	metricsFile string
	outFormat   string
	noColor     bool
	debug       bool

	stdout  io.Writer
	stderr  io.Writer
	getenv  func(string) string
	metrics *metrics.Recorder
	log     zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	c := &cli{
		stdout:  stdout,
		stderr:  stderr,
		getenv:  getenv,
		metrics: metrics.New(),
		log:     zerolog.Nop(),
	}

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	if c.metricsFile != "" {
		if werr := c.metrics.WriteTextfile(c.metricsFile); werr != nil {
			c.log.Error().Err(werr).Str("path", c.metricsFile).Msg("failed to write metrics")
		}
	}

	return exitCode(err, stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errResultFailed) {
		return exitFailed
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	var cfgErr *config.Error
	if executor.IsValidation(err) || errors.As(err, &cfgErr) {
		return exitBadRequest
	}
	return exitFailed
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetcmd",
		Short: "fleetcmd - Run commands on a cluster login node and its compute nodes",
		Long: `fleetcmd runs commands on an HPC cluster through its login node.

Single-host calls run on the login node; fan-out calls run one parallel-ssh
invocation there and split its output per host. Every call prints one
structured JSON result.

Connection settings come from CLUSTER_* environment variables, an optional
.env file and an optional YAML config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := c.logLevel
			if c.debug && level == "" {
				level = "debug"
			}
			c.log = logging.Init(logging.Config{
				Level:     level,
				Format:    c.logFormat,
				Component: "cli",
				Out:       c.stderr,
			}.FromEnv(c.getenv))

			switch c.outFormat {
			case "json", "text":
				return nil
			default:
				return command.Invalid("output", "unknown output format %q (want json or text)", c.outFormat)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "YAML config file with endpoint settings")
	flags.StringVar(&c.envFile, "env-file", "", "dotenv file with CLUSTER_* settings (default .env if present)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled (env "+logging.EnvLevel+")")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format: json, console, auto (env "+logging.EnvFormat+")")
	flags.StringVar(&c.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")
	flags.StringVarP(&c.outFormat, "output", "o", "json", "Result format: json or text")
	flags.BoolVar(&c.noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&c.debug, "debug", "d", false, "Enable debug output")

	root.AddCommand(
		c.execCmd(),
		c.fanoutCmd(),
		c.callCmd(),
		c.runCmd(),
		c.validateCmd(),
		c.toolsCmd(),
	)

	return root
}

// newExecutor loads the endpoint and builds the executor for one process.
func (c *cli) newExecutor() (*executor.Executor, error) {
	envFile, required := c.envFile, true
	if envFile == "" {
		envFile, required = defaultEnvFile, false
	}

	ep, err := config.Load(config.Options{
		File:            c.configFile,
		EnvFile:         envFile,
		EnvFileRequired: required,
		Getenv:          c.getenv,
	})
	if err != nil {
		return nil, err
	}

	mgr, err := session.New(ep, session.WithLogger(logging.WithComponent("session")))
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("endpoint", ep.String()).Msg("endpoint loaded")

	opts := append(executor.FromEndpoint(ep),
		executor.WithLogger(logging.WithComponent("executor")),
		executor.WithMetrics(c.metrics),
	)
	return executor.New(mgr, opts...), nil
}

// newOutput returns the formatter for w. Color is only used on terminals.
func (c *cli) newOutput(w io.Writer) *output.Output {
	o := output.New(w)
	o.SetDebug(c.debug)

	color := !c.noColor && c.getenv("NO_COLOR") == ""
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		color = false
	}
	o.SetColor(color)
	return o
}

// emit prints r in the selected format.
func (c *cli) emit(r *result.Result) error {
	out := c.newOutput(c.stdout)

	if c.outFormat == "text" {
		out.Lines(r)
	} else if err := out.JSON(r); err != nil {
		return err
	}

	if !r.Success {
		return errResultFailed
	}
	return nil
}
