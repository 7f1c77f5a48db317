// Package facts provides a tool reporting login node facts.
package facts

import (
	"context"
	"fmt"
	"sort"

	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
	"github.com/eugenetaranov/fleetcmd/pkg/facts"
)

func init() {
	module.Register(&Module{})
}

// Module gathers facts over one session.
type Module struct{}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "login_facts"
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return "OS, kernel, architecture and Slurm version of the login node"
}

// Run gathers facts. It takes no parameters.
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	var gathered map[string]any
	err := exec.WithSession(ctx, func(s *executor.Session) error {
		var err error
		gathered, err = facts.Gather(s)
		return err
	})
	if err != nil {
		if executor.IsValidation(err) {
			return nil, err
		}
		return result.Failure(m.Name(), err), nil
	}

	keys := make([]string, 0, len(gathered))
	for k := range gathered {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := result.Single(m.Name(), "")
	for _, k := range keys {
		r.Lines = append(r.Lines, fmt.Sprintf("%s=%v", k, gathered[k]))
		r.WithMeta(k, gathered[k])
	}
	return r, nil
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
