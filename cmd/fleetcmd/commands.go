package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/module"
)

// execCmd runs one command on the login node
func (c *cli) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec -- <cmd> [args...]",
		Short: "Run a command on the login node",
		Long: `Run one program on the login node. Every argument is passed as a single
literal word; shell syntax such as pipes or $(...) is not interpreted.

Examples:
  fleetcmd exec -- sinfo -p gpu
  fleetcmd exec -o text -- df -h /scratch`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := c.newExecutor()
			if err != nil {
				return err
			}

			r, err := exec.Run(cmd.Context(), command.New(args[0], args[1:]...))
			if err != nil {
				return err
			}
			return c.emit(r)
		},
	}
}

// fanoutCmd runs one command on many hosts through the multiplexer
func (c *cli) fanoutCmd() *cobra.Command {
	var hosts []string

	cmd := &cobra.Command{
		Use:   "fanout --hosts a,b -- <cmd> [args...]",
		Short: "Run a command on compute nodes through the login node",
		Long: `Run one program on every listed host with a single multiplexer invocation
on the login node. Output is split per host in completion order.

Examples:
  fleetcmd fanout --hosts gpu-01,gpu-02 -- nvidia-smi -L
  fleetcmd fanout --hosts gpu-01 --hosts gpu-02 -o text -- uptime`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := c.newExecutor()
			if err != nil {
				return err
			}

			r, err := exec.FanOut(cmd.Context(), hosts, command.New(args[0], args[1:]...))
			if err != nil {
				return err
			}
			return c.emit(r)
		},
	}

	cmd.Flags().StringSliceVarP(&hosts, "hosts", "H", nil, "Target hosts (comma-separated or repeated)")
	_ = cmd.MarkFlagRequired("hosts")
	return cmd
}

// callCmd runs one registered tool
func (c *cli) callCmd() *cobra.Command {
	var (
		pairs      []string
		paramsJSON string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool with parameters",
		Long: `Call one registered tool. Parameters are given as key=value pairs, as a
JSON object, or both (pairs win). A value starting with [ or { is read as YAML,
so lists can be written inline.

Examples:
  fleetcmd call sacct --param args='[-s, F, -S, now-1hours]'
  fleetcmd call read_file --param path=/var/log/slurm/slurmctld.log --param action=search --param pattern=error
  fleetcmd call physical_hostname --params-json '{"hosts": ["gpu-01", "gpu-02"]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod := module.Get(args[0])
			if mod == nil {
				return fmt.Errorf("unknown tool '%s' (available: %s)", args[0], strings.Join(module.List(), ", "))
			}

			params, err := parseParams(paramsJSON, pairs)
			if err != nil {
				return err
			}

			exec, err := c.newExecutor()
			if err != nil {
				return err
			}

			r, err := mod.Run(cmd.Context(), exec, params)
			if err != nil {
				return err
			}
			return c.emit(r)
		},
	}

	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "Tool parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsJSON, "params-json", "", "Tool parameters as a JSON object")
	return cmd
}

// toolsCmd lists available tools
func (c *cli) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Long:  `Display all tools that can be used with call and in runbooks.`,
		Run: func(cmd *cobra.Command, args []string) {
			names := module.List()
			if len(names) == 0 {
				fmt.Fprintln(c.stdout, "No tools registered.")
				return
			}

			width := 0
			for _, name := range names {
				width = max(width, len(name))
			}

			fmt.Fprintln(c.stdout, "Available tools:")
			fmt.Fprintln(c.stdout)
			for _, name := range names {
				fmt.Fprintf(c.stdout, "  %-*s  %s\n", width, name, module.Get(name).Description())
			}
			fmt.Fprintln(c.stdout)
			fmt.Fprintf(c.stdout, "Total: %d tools\n", len(names))
		},
	}
}

// parseParams merges a JSON object with key=value pairs.
func parseParams(paramsJSON string, pairs []string) (map[string]any, error) {
	params := map[string]any{}

	if strings.TrimSpace(paramsJSON) != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return nil, command.Invalid("params-json", "invalid JSON object: %v", err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, command.Invalid("param", "expected key=value, got %q", pair)
		}
		v, err := parseValue(value)
		if err != nil {
			return nil, command.Invalid(key, "parameter '%s': %v", key, err)
		}
		params[key] = v
	}

	return params, nil
}

// parseValue keeps plain values as strings. Only inline lists and mappings
// are decoded, so a pattern such as "error: x" stays text.
func parseValue(value string) (any, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
		return value, nil
	}

	var v any
	if err := yaml.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// parseVars parses repeated key=value extra vars.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid extra var %q (expected key=value)", pair)
		}
		v, err := parseValue(value)
		if err != nil {
			return nil, fmt.Errorf("extra var %s: %w", key, err)
		}
		vars[strings.TrimSpace(key)] = v
	}
	return vars, nil
}
