package runbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/eugenetaranov/fleetcmd/internal/module/slurm"
)

const healthRunbook = `
name: gpu partition health
vars:
  partition: gpu
  nodes: [gpu-01, gpu-02]
steps:
  - name: Partition state
    sinfo:
      args: [-p, "{{ partition }}"]
    register: part
  - name: Pending jobs
    squeue: -p {{ partition }} -t PD
    when: part.success
  - systemctl:
      hosts: "{{ nodes }}"
      args: [is-active, slurmd]
    loop: [a, b]
    loop_var: unit
    ignore_errors: true
`

func TestParse(t *testing.T) {
	rb, err := Parse([]byte(healthRunbook), "health.yaml")
	require.NoError(t, err)

	assert.Equal(t, "health.yaml", rb.Path)
	assert.Equal(t, "gpu partition health", rb.Name)
	assert.Equal(t, "gpu", rb.Vars["partition"])
	require.Len(t, rb.Steps, 3)

	first := rb.Steps[0]
	assert.Equal(t, "sinfo", first.Tool)
	assert.Equal(t, "part", first.Register)
	assert.Equal(t, []any{"-p", "{{ partition }}"}, first.Params["args"])

	second := rb.Steps[1]
	assert.Equal(t, "squeue", second.Tool)
	assert.Equal(t, "part.success", second.When)
	assert.Equal(t, "-p {{ partition }} -t PD", second.Params[rawParam])

	third := rb.Steps[2]
	assert.Equal(t, "systemctl", third.Tool)
	assert.True(t, third.IgnoreErrors)
	assert.Equal(t, []any{"a", "b"}, third.Loop)
	assert.Equal(t, "unit", third.GetLoopVar())
	assert.Equal(t, "item", rb.Steps[0].GetLoopVar())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "runbook is empty"},
		{"not a mapping", "- sinfo: {}", "invalid runbook format"},
		{"unknown field", "hosts: all\nsteps: [{sinfo: {}}]", "unknown runbook field 'hosts'"},
		{"no steps", "name: x", "runbook has no steps"},
		{"steps not a list", "steps: {sinfo: {}}", "steps must be a list"},
		{"step not a mapping", "steps: [sinfo]", "step 1: invalid step format"},
		{"no tool", "steps: [{name: x}]", "step has no tool specified"},
		{"two tools", "steps: [{sinfo: {}, squeue: {}}]", "multiple tools specified: sinfo and squeue"},
		{"bad params", "steps: [{sinfo: [a]}]", "parameters must be a mapping or a string"},
		{"bad quoting", "steps: [{sinfo: \"-p 'gpu\"}]", "sinfo:"},
		{"loop not a list", "steps: [{sinfo: {}, loop: x}]", "loop must be a list"},
		{"ignore_errors not bool", "steps: [{sinfo: {}, ignore_errors: maybe}]", "ignore_errors must be true or false"},
		{"bad register", "steps: [{sinfo: {}, register: a.b}]", "must be a plain identifier"},
		{"register shadows var", "vars: {p: 1}\nsteps: [{sinfo: {}, register: p}]", "shadows a runbook variable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - sinfo:\n"), 0o644))

	rb, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, rb.Path)
	assert.Empty(t, rb.Steps[0].Params)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read runbook")
}

func TestExpandShorthand(t *testing.T) {
	params, err := ExpandShorthand("squeue", `-p gpu --format "%i %T"`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"args": []any{"-p", "gpu", "--format", "%i %T"}}, params)

	params, err = ExpandShorthand("command", "df -h /scratch")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"cmd": "df", "args": []any{"-h", "/scratch"}}, params)

	params, err = ExpandShorthand("read_file", " /var/log/slurm/slurmctld.log ")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "/var/log/slurm/slurmctld.log"}, params)

	_, err = ExpandShorthand("sinfo", `"unterminated`)
	assert.Error(t, err)
}

func TestResolveTools(t *testing.T) {
	rb, err := Parse([]byte("steps: [{sinfo: {}}, {no_such_tool: {}}]"), "")
	require.NoError(t, err)

	err = ResolveTools(rb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2: unknown tool 'no_such_tool'")
	assert.Contains(t, err.Error(), "sinfo")
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "named", (&Step{Name: "named", Tool: "sinfo"}).String())
	assert.Equal(t, "sinfo: {}", (&Step{Tool: "sinfo"}).String())
	assert.Equal(t, `sacct: {args=[-s R]}`, (&Step{Tool: "sacct", Params: map[string]any{"args": []any{"-s", "R"}}}).String())
}
