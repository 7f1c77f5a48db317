// Package command provides a module for running one program with literal arguments.
package command

import (
	"context"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

func init() {
	module.Register(&Module{})
}

// Module runs a program on the login node, or on a set of hosts when hosts is given.
// There is no shell syntax: the program and each argument are single words.
type Module struct{}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "command"
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return "Run a program with literal arguments on the login node or a set of hosts"
}

// Run executes the command module.
//
// Parameters:
//   - cmd (string, required): The program to execute
//   - args ([]string): Literal arguments
//   - hosts ([]string): Fan out to these hosts instead of running on the login node
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	cmd, err := module.RequireString(params, "cmd")
	if err != nil {
		return nil, err
	}

	args, err := module.GetStringSlice(params, "args")
	if err != nil {
		return nil, err
	}

	spec := command.New(cmd, args...)

	if _, ok := params["hosts"]; ok {
		hosts, err := module.RequireHosts(params)
		if err != nil {
			return nil, err
		}
		return exec.FanOut(ctx, hosts, spec)
	}

	return exec.Run(ctx, spec)
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
