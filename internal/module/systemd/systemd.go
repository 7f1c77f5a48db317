// Package systemd provides service manager tools that fan out to compute nodes.
package systemd

import (
	"context"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

func init() {
	module.Register(&Module{name: "systemctl", description: "Run systemctl on a set of nodes"})
	module.Register(&Module{name: "journalctl", description: "Run journalctl on a set of nodes"})
}

// Module runs one systemd client binary on every requested host.
type Module struct {
	name        string
	description string
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return m.name
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return m.description
}

// Run executes the command across hosts.
//
// Parameters:
//   - hosts ([]string, required): Target node names
//   - args ([]string): Literal arguments
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	hosts, err := module.RequireHosts(params)
	if err != nil {
		return nil, err
	}
	args, err := module.GetStringSlice(params, "args")
	if err != nil {
		return nil, err
	}
	return exec.FanOut(ctx, hosts, command.New(m.name, args...))
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
