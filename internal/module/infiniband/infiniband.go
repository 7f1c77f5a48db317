// Package infiniband provides InfiniBand fabric tools.
package infiniband

import (
	"context"
	"sort"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// PKeyScript lists the full-membership partition keys of the first port of every mlx5 device.
const PKeyScript command.Script = "cat /sys/class/infiniband/mlx5_*/ports/1/pkeys/* 2>/dev/null | grep 0x8 | sort -u"

func init() {
	module.Register(&Module{})
}

// Module reports partition keys per host.
type Module struct{}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "infiniband_pkeys"
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return "InfiniBand partition keys (0x8...) of each node"
}

// Run executes the pkey query.
//
// Parameters:
//   - hosts ([]string, required): Node names
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	hosts, err := module.RequireHosts(params)
	if err != nil {
		return nil, err
	}
	return module.Extract(ctx, exec, hosts, PKeyScript, func(e *result.HostEntry) {
		e.Values = NormalizePKeys(e.Lines)
	})
}

// NormalizePKeys lower-cases, de-duplicates and sorts pkeys.
func NormalizePKeys(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		pk := strings.ToLower(strings.TrimSpace(l))
		if pk == "" {
			continue
		}
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	sort.Strings(out)
	return out
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
