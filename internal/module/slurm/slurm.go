// Package slurm provides tools that run Slurm client commands on the login node.
package slurm

import (
	"context"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

func init() {
	module.Register(&Module{name: "sacct", description: "Job accounting (sacct); adds --endtime=now to state queries", prepare: CorrectSacctArgs})
	module.Register(&Module{name: "squeue", description: "Job queue (squeue)"})
	module.Register(&Module{name: "sinfo", description: "Node and partition state (sinfo)"})
	module.Register(&Module{name: "scontrol", description: "Cluster control and inspection (scontrol)"})
	module.Register(&Module{name: "sreport", description: "Accounting reports (sreport)"})
	module.Register(&Module{name: "sbatch", description: "Submit a batch job (sbatch)"})
}

// Module runs one Slurm client binary with caller-supplied arguments.
type Module struct {
	name        string
	description string
	prepare     func([]string) []string
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return m.name
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return m.description
}

// Run executes the Slurm command on the login node.
//
// Parameters:
//   - args ([]string): Literal arguments, each passed as one shell word
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	args, err := module.GetStringSlice(params, "args")
	if err != nil {
		return nil, err
	}
	if m.prepare != nil {
		args = m.prepare(args)
	}
	return exec.Run(ctx, command.New(m.name, args...))
}

// CorrectSacctArgs appends --endtime=now when a state filter is given without
// an end time. sacct with -s and no -E searches a window that ends at the
// start time and usually returns nothing. The input slice is not modified.
func CorrectSacctArgs(args []string) []string {
	hasState, hasEnd := false, false
	for _, a := range args {
		switch {
		case isOption(a, "-s", "--state"):
			hasState = true
		case isOption(a, "-E", "--endtime"):
			hasEnd = true
		}
	}

	out := append([]string(nil), args...)
	if hasState && !hasEnd {
		out = append(out, "--endtime=now")
	}
	return out
}

// isOption reports whether arg spells the option in any form sacct accepts:
// separate value, --long=value or an attached short value. Short flags are
// case-sensitive (-S is starttime, -e is helpformat).
func isOption(arg, short, long string) bool {
	if arg == long || strings.HasPrefix(arg, long+"=") {
		return true
	}
	return strings.HasPrefix(arg, short) && !strings.HasPrefix(arg, "--")
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
