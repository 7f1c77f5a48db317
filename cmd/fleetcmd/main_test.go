package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliRun struct {
	code   int
	stdout string
	stderr string
}

func localEnv(extra map[string]string) func(string) string {
	env := map[string]string{
		"CLUSTER_HOST":       "localhost",
		"CLUSTER_USER":       "azureuser",
		"CLUSTER_TRANSPORT":  "local",
		"FLEETCMD_LOG_LEVEL": "disabled",
	}
	for k, v := range extra {
		env[k] = v
	}
	return func(key string) string { return env[key] }
}

func runCLI(t *testing.T, getenv func(string) string, args ...string) cliRun {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, getenv)
	return cliRun{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func fakeMultiplexer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pssh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}

func TestExec(t *testing.T) {
	res := runCLI(t, localEnv(nil), "exec", "--", "echo", "hello world", "$(id)")
	require.Equal(t, exitOK, res.code, res.stderr)

	out := decode(t, res.stdout)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{"hello world $(id)"}, out["lines"])
	assert.Equal(t, "echo 'hello world' '$(id)'", out["command"])
	assert.Nil(t, out["error"])
}

func TestExecTextOutput(t *testing.T) {
	res := runCLI(t, localEnv(nil), "exec", "-o", "text", "--", "printf", `a\nb\n`)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "a\nb\n", res.stdout)
}

func TestExecMissingConfig(t *testing.T) {
	res := runCLI(t, func(string) string { return "" }, "exec", "--", "hostname")
	assert.Equal(t, exitBadRequest, res.code)
	assert.Contains(t, res.stderr, "CLUSTER_HOST")
	assert.Empty(t, res.stdout)
}

func TestExecValidationError(t *testing.T) {
	res := runCLI(t, localEnv(nil), "exec", "--", "echo", "a\nreboot")
	assert.Equal(t, exitBadRequest, res.code)
	assert.Contains(t, res.stderr, "newline")
	assert.Empty(t, res.stdout)
}

func TestUnknownOutputFormat(t *testing.T) {
	res := runCLI(t, localEnv(nil), "exec", "-o", "yaml", "--", "true")
	assert.Equal(t, exitBadRequest, res.code)
	assert.Contains(t, res.stderr, "unknown output format")
}

func TestFanOut(t *testing.T) {
	pssh := fakeMultiplexer(t, `printf '[1] 12:00:00 [SUCCESS] gpu-01\n up 3 days\n[2] 12:00:01 [FAILURE] gpu-02 Exited with error code 255\n'`)
	getenv := localEnv(map[string]string{"CLUSTER_MULTIPLEXER": pssh})

	res := runCLI(t, getenv, "fanout", "--hosts", "gpu-01,gpu-02", "--", "uptime")
	require.Equal(t, exitOK, res.code, res.stderr)

	out := decode(t, res.stdout)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, map[string]any{"queried": float64(2)}, out["summary"])

	hosts := out["hosts"].([]any)
	require.Len(t, hosts, 2)
	assert.Equal(t, map[string]any{"host": "gpu-01", "lines": []any{"up 3 days"}}, hosts[0])
	assert.Equal(t, "FAILURE: Exited with error code 255", hosts[1].(map[string]any)["error"])
}

func TestFanOutMultiplexerFailure(t *testing.T) {
	pssh := fakeMultiplexer(t, `echo "pssh: no hosts reachable" >&2; exit 1`)
	getenv := localEnv(map[string]string{"CLUSTER_MULTIPLEXER": pssh})

	res := runCLI(t, getenv, "fanout", "-H", "gpu-01", "--", "uptime")
	assert.Equal(t, exitFailed, res.code)

	out := decode(t, res.stdout)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "multiplexer error")
}

func TestFanOutInvalidHost(t *testing.T) {
	res := runCLI(t, localEnv(nil), "fanout", "--hosts", "gpu-01;reboot", "--", "uptime")
	assert.Equal(t, exitBadRequest, res.code)
	assert.Empty(t, res.stdout)
}

func TestCall(t *testing.T) {
	res := runCLI(t, localEnv(nil), "call", "command", "--param", "cmd=echo", "--param", "args=[a, 'b c']")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []any{"a b c"}, decode(t, res.stdout)["lines"])

	res = runCLI(t, localEnv(nil), "call", "command", "--params-json", `{"cmd": "echo", "args": ["x"]}`, "-p", "args=[y]")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []any{"y"}, decode(t, res.stdout)["lines"])
}

func TestCallReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurmctld.log")
	require.NoError(t, os.WriteFile(path, []byte("start\nerror: node down\nok\n"), 0o644))

	res := runCLI(t, localEnv(nil), "call", "read_file", "-p", "path="+path, "-p", "action=search", "-p", "pattern=error: node")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []any{"2:error: node down"}, decode(t, res.stdout)["lines"])
}

func TestCallErrors(t *testing.T) {
	res := runCLI(t, localEnv(nil), "call", "no_such_tool")
	assert.Equal(t, exitFailed, res.code)
	assert.Contains(t, res.stderr, "unknown tool 'no_such_tool'")

	res = runCLI(t, localEnv(nil), "call", "command", "--param", "novalue")
	assert.Equal(t, exitBadRequest, res.code)

	res = runCLI(t, localEnv(nil), "call", "command", "--params-json", "[1]")
	assert.Equal(t, exitBadRequest, res.code)

	res = runCLI(t, localEnv(nil), "call", "command")
	assert.Equal(t, exitBadRequest, res.code, "missing cmd is a validation error")
}

func TestTools(t *testing.T) {
	res := runCLI(t, localEnv(nil), "tools")
	require.Equal(t, exitOK, res.code)
	for _, name := range []string{"sacct", "squeue", "sinfo", "scontrol", "sreport", "sbatch",
		"systemctl", "journalctl", "read_file", "physical_hostname", "vmss_instance_name",
		"infiniband_pkeys", "login_facts", "command"} {
		assert.Contains(t, res.stdout, name)
	}
	assert.Contains(t, res.stdout, "Total: 14 tools")
}

func writeRunbook(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestRun(t *testing.T) {
	path := writeRunbook(t, `
name: smoke
steps:
  - name: Greet
    command: echo {{ greeting | default('hi') }}
    register: greet
  - name: Echo back
    command:
      cmd: echo
      args: ["{{ greet.lines | first }}"]
    when: greet.success
`)

	res := runCLI(t, localEnv(nil), "run", "-o", "text", path, "-e", "greeting=hello")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "RUNBOOK smoke")
	assert.Contains(t, res.stdout, "Echo back")
	assert.Contains(t, res.stdout, "ok=2 failed=0")

	res = runCLI(t, localEnv(nil), "run", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	out := decode(t, res.stdout)
	assert.Equal(t, true, out["success"])
	steps := out["steps"].([]any)
	require.Len(t, steps, 2)
	result := steps[1].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, []any{"hi"}, result["lines"])
	assert.Contains(t, res.stderr, "RECAP")
}

func TestRunFailingStep(t *testing.T) {
	pssh := fakeMultiplexer(t, `echo "pssh: connection refused" >&2`)
	path := writeRunbook(t, `
steps:
  - systemctl:
      hosts: [gpu-01]
      args: [is-active, slurmd]
  - command: echo unreachable
`)

	res := runCLI(t, localEnv(map[string]string{"CLUSTER_MULTIPLEXER": pssh}), "run", "-o", "text", path)
	assert.Equal(t, exitFailed, res.code)
	assert.Contains(t, res.stdout, "failed=1")
	assert.NotContains(t, res.stdout, "unreachable")
}

func TestValidate(t *testing.T) {
	good := writeRunbook(t, "steps:\n  - sinfo: -p gpu\n")
	bad := writeRunbook(t, "steps:\n  - nope: {}\n")

	res := runCLI(t, localEnv(nil), "validate", good)
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "OK: "+good)
	assert.Contains(t, res.stdout, "All 1 runbook(s) valid.")

	res = runCLI(t, localEnv(nil), "validate", good, bad, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitFailed, res.code)
	assert.Contains(t, res.stdout, "FAIL: "+bad)
	assert.Contains(t, res.stdout, "unknown tool 'nope'")
	assert.Contains(t, res.stdout, "not found")
}

func TestMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetcmd.prom")

	res := runCLI(t, localEnv(nil), "--metrics-file", path, "exec", "--", "true")
	require.Equal(t, exitOK, res.code, res.stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fleetcmd_calls_total{mode="single",outcome="success"} 1`)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"hosts": ["a"], "limit": 5}`, []string{
		"pattern=error: x",
		"args=[-s, R]",
		"filter={state: PD}",
		"empty=",
		"limit=10",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"hosts":   []any{"a"},
		"limit":   "10",
		"pattern": "error: x",
		"args":    []any{"-s", "R"},
		"filter":  map[string]any{"state": "PD"},
		"empty":   "",
	}, params)

	_, err = parseParams("", []string{"=x"})
	assert.Error(t, err)

	_, err = parseParams("", []string{"args=[unclosed"})
	assert.Error(t, err)

	params, err = parseParams("null", nil)
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"partition=gpu", "nodes=[gpu-01, gpu-02]"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"partition": "gpu", "nodes": []any{"gpu-01", "gpu-02"}}, vars)

	_, err = parseVars([]string{"partition"})
	assert.Error(t, err)
}
