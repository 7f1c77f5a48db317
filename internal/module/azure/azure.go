// Package azure provides extractors for Azure VM metadata on compute nodes.
package azure

import (
	"context"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// PhysicalHostScript reads the physical host name from the Hyper-V KVP pool.
const PhysicalHostScript command.Script = `test -f /var/lib/hyperv/.kvp_pool_3 && tr -d "\0" < /var/lib/hyperv/.kvp_pool_3 | grep -o "Qualified[^V]*VirtualMachineDynamic" | sed "s/Qualified//;s/VirtualMachineDynamic//" | head -1 || echo ""`

// VMSSInstanceScript reads the scale-set instance name from the instance metadata service.
const VMSSInstanceScript command.Script = `curl -H "Metadata: true" "http://169.254.169.254/metadata/instance?api-version=2025-04-07&format=json" 2>/dev/null | jq -r .compute.name 2>/dev/null || echo ""`

func init() {
	module.Register(&Module{
		name:        "physical_hostname",
		description: "Physical Azure host of each VM (Hyper-V KVP pool)",
		script:      PhysicalHostScript,
		nullMessage: "Failed to read physical host name from KVP pool",
	})
	module.Register(&Module{
		name:        "vmss_instance_name",
		description: "Scale set instance name of each VM (instance metadata service)",
		script:      VMSSInstanceScript,
		nullMessage: "Failed to retrieve VMSS ID from metadata service",
	})
}

// Module runs a fixed metadata script on every requested host.
type Module struct {
	name        string
	description string
	script      command.Script
	nullMessage string
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return m.name
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return m.description
}

// Run executes the extractor.
//
// Parameters:
//   - hosts ([]string, required): VM host names
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	hosts, err := module.RequireHosts(params)
	if err != nil {
		return nil, err
	}

	r, err := module.Extract(ctx, exec, hosts, m.script, m.annotate)
	if err != nil {
		return nil, err
	}
	return r.WithMeta("field", m.name), nil
}

// annotate sets the entry value, or its error when the output is a failure message.
func (m *Module) annotate(e *result.HostEntry) {
	value := strings.TrimSpace(strings.Join(e.Lines, ""))
	if value == "null" {
		msg := m.nullMessage
		e.Error = &msg
		return
	}
	if IsFailureOutput(value) {
		e.Error = &value
		return
	}
	e.Value = value
}

// IsFailureOutput reports whether extractor output is an error message from one of the script's tools.
func IsFailureOutput(value string) bool {
	lower := strings.ToLower(value)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "curl:") || strings.Contains(lower, "jq:") {
		return true
	}
	return strings.HasPrefix(value, "test:") || strings.HasPrefix(value, "tr:")
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
