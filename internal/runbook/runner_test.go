package runbook

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/fleetcmd/internal/connector/connectortest"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/output"
	"github.com/eugenetaranov/fleetcmd/internal/result"

	_ "github.com/eugenetaranov/fleetcmd/internal/module/command"
	_ "github.com/eugenetaranov/fleetcmd/internal/module/slurm"
)

func newTestRunner(stub *connectortest.Stub, opts ...RunnerOption) (*Runner, *bytes.Buffer) {
	var buf bytes.Buffer
	out := output.New(&buf)
	out.SetColor(false)
	opts = append([]RunnerOption{WithOutput(out)}, opts...)
	return NewRunner(executor.New(stub), opts...), &buf
}

func mustParse(t *testing.T, doc string) *Runbook {
	t.Helper()
	rb, err := Parse([]byte(doc), "test.yaml")
	require.NoError(t, err)
	return rb
}

func TestRunRegisterAndWhen(t *testing.T) {
	stub := connectortest.New().
		On("sinfo -p gpu", connectortest.Reply{Stdout: "PARTITION AVAIL\ngpu up\n"}).
		On("squeue -p gpu -t PD", connectortest.Reply{Stdout: "JOBID\n"})
	runner, buf := newTestRunner(stub)

	rb := mustParse(t, `
name: health
vars:
  partition: gpu
steps:
  - name: Partition state
    sinfo: -p {{ partition }}
    register: part
  - name: Pending jobs
    squeue:
      args: [-p, "{{ partition }}", -t, PD]
    when: part.success
  - name: Utilization
    sreport: cluster utilization
    when: not part.success
`)

	res, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Stats.Steps)
	assert.Equal(t, 2, res.Stats.OK)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, []string{"sinfo -p gpu", "squeue -p gpu -t PD"}, stub.Commands())

	require.Len(t, res.Steps, 3)
	assert.Equal(t, []string{"PARTITION AVAIL", "gpu up"}, res.Steps[0].Result.Lines)
	assert.Equal(t, output.StatusSkipped, res.Steps[2].Status)
	assert.Nil(t, res.Steps[2].Result)

	assert.Contains(t, buf.String(), "RUNBOOK health")
	assert.Contains(t, buf.String(), "RECAP ok=2 failed=0 ignored=0 skipped=1")
}

func TestRunStopsOnFailure(t *testing.T) {
	stub := connectortest.New().Default(connectortest.Reply{Err: errors.New("connection reset by peer")})
	runner, buf := newTestRunner(stub)

	rb := mustParse(t, `
steps:
  - sinfo: {}
  - squeue: {}
`)

	res, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Stats.Failed)
	require.Len(t, res.Steps, 1)
	assert.Contains(t, res.Steps[0].Error, "connection reset by peer")
	assert.False(t, res.Steps[0].Result.Success)
	assert.Equal(t, []string{"sinfo"}, stub.Commands())
	assert.Contains(t, buf.String(), "✗")
}

func TestRunIgnoreErrors(t *testing.T) {
	stub := connectortest.New().
		On("sinfo", connectortest.Reply{Err: errors.New("timeout")}).
		On("squeue", connectortest.Reply{Stdout: "JOBID\n"})
	runner, _ := newTestRunner(stub)

	rb := mustParse(t, `
steps:
  - sinfo: {}
    ignore_errors: true
    register: info
  - squeue: {}
    when: not info.success
`)

	res, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Stats.Ignored)
	assert.Equal(t, 1, res.Stats.OK)
	assert.Equal(t, output.StatusIgnored, res.Steps[0].Status)
	assert.Equal(t, []string{"sinfo", "squeue"}, stub.Commands())
}

func TestRunValidationErrorFailsStep(t *testing.T) {
	stub := connectortest.New()
	runner, _ := newTestRunner(stub)

	rb := mustParse(t, `
steps:
  - command:
      cmd: "echo\nreboot"
`)

	res, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Stats.Failed)
	assert.Nil(t, res.Steps[0].Result)
	assert.Empty(t, stub.Commands(), "nothing is sent for an invalid command")
}

func TestRunLoop(t *testing.T) {
	stub := connectortest.New().Default(connectortest.Reply{Stdout: "ok\n"})
	runner, _ := newTestRunner(stub)

	rb := mustParse(t, `
vars:
  nodes: [gpu-01, gpu-02]
steps:
  - command:
      cmd: ping
      args: [-c, "1", "{{ node }}"]
    loop: [gpu-01, gpu-02]
    loop_var: node
    register: pings
  - command: echo {{ nodes | join(' ') }}
    when: pings.success
  - command: echo {{ node | default('gone') }}
`)

	res, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Stats.OK)
	assert.Equal(t, []string{
		"ping -c 1 gpu-01",
		"ping -c 1 gpu-02",
		"echo gpu-01 gpu-02",
		"echo gone",
	}, stub.Commands())
	assert.Equal(t, "gpu-02", res.Steps[1].Item)
}

// The string form is split into words after interpolation, so a value with
// spaces becomes several arguments; the list form keeps it as one.
func TestRunShorthandQuotingIsLiteral(t *testing.T) {
	stub := connectortest.New().Default(connectortest.Reply{})
	runner, _ := newTestRunner(stub, WithVars(map[string]any{"user": "bob; reboot"}))

	rb := mustParse(t, `
steps:
  - squeue: -u {{ user }}
  - squeue:
      args: [-u, "{{ user }}"]
`)

	_, err := runner.Run(context.Background(), rb)
	require.NoError(t, err)
	assert.Equal(t, []string{"squeue -u 'bob;' reboot", "squeue -u 'bob; reboot'"}, stub.Commands())
}

func TestRunCancelled(t *testing.T) {
	stub := connectortest.New().Default(connectortest.Reply{})
	runner, _ := newTestRunner(stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, mustParse(t, "steps: [{sinfo: {}}]"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Empty(t, stub.Commands())
}

func TestRunDryRun(t *testing.T) {
	stub := connectortest.New()
	runner, _ := newTestRunner(stub, WithDryRun(true))

	res, err := runner.Run(context.Background(), mustParse(t, "steps: [{sinfo: {}}, {squeue: {}}]"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Empty(t, stub.Commands())
}

func TestRunUnknownTool(t *testing.T) {
	runner, _ := newTestRunner(connectortest.New())

	res, err := runner.Run(context.Background(), mustParse(t, "steps: [{no_such_tool: {}}]"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Steps[0].Error, "unknown tool: no_such_tool")
}

func TestEvaluateCondition(t *testing.T) {
	rctx := &RunContext{
		Vars: map[string]any{
			"enabled":   true,
			"disabled":  false,
			"name":      "test",
			"empty":     "",
			"count":     5,
			"partition": "gpu",
			"facts": map[string]any{
				"os_family": "Debian",
			},
		},
		Registered: map[string]any{
			"part": registerValue(result.Single("sinfo", "gpu up\n")),
		},
	}

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"true var", "enabled", true},
		{"false var", "disabled", false},
		{"non-empty string", "name", true},
		{"empty string", "empty", false},
		{"positive number", "count", true},
		{"undefined var", "nope", false},

		{"string equals", "partition == 'gpu'", true},
		{"string not equals", "partition == 'cpu'", false},
		{"bare word operand", "partition == gpu", true},
		{"number equals", "count == 5", true},
		{"dotted equals", "facts.os_family == 'Debian'", true},
		{"filter operand", "partition | upper == 'GPU'", true},

		{"not equals true", "partition != 'cpu'", true},
		{"not equals false", "partition != 'gpu'", false},

		{"not true", "not enabled", false},
		{"not false", "not disabled", true},
		{"not empty", "not empty", true},

		{"registered success", "part.success", true},
		{"registered error empty", "part.error", false},
		{"registered lines", "part.lines", true},
		{"registered lines length", "part.lines | length == 1", true},

		{"literal true", "true", true},
		{"literal false", "false", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCondition(tt.condition, rctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionErrors(t *testing.T) {
	rctx := NewRunContext()

	_, err := evaluateCondition("  ", rctx)
	assert.Error(t, err)

	_, err = evaluateCondition("x | nope", rctx)
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"no", false},
		{"0", false},
		{"yes", true},
		{0, false},
		{3, true},
		{int64(0), false},
		{0.0, false},
		{1.5, true},
		{[]any{}, false},
		{[]any{1}, true},
		{[]string{"a"}, true},
		{map[string]any{}, false},
		{struct{}{}, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isTruthy(tt.value), "isTruthy(%#v)", tt.value)
	}
}

func TestStatsImplementsInterface(t *testing.T) {
	var _ output.Stats = (*Stats)(nil)
}
