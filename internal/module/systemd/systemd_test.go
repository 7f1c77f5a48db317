package systemd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/connector/connectortest"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
)

func TestSystemctl(t *testing.T) {
	stub := connectortest.New().On(
		"parallel-ssh -i -H 'gpu-01 gpu-02' 'systemctl is-active slurmd'",
		connectortest.Reply{Stdout: "[1] 10:00:00 [SUCCESS] gpu-02\nactive\n[2] 10:00:01 [SUCCESS] gpu-01\nactive\n"},
	)
	exec := executor.New(stub)

	r, err := module.Get("systemctl").Run(context.Background(), exec, map[string]any{
		"hosts": []any{"gpu-01", "gpu-02"},
		"args":  []any{"is-active", "slurmd"},
	})
	require.NoError(t, err)
	assert.True(t, r.Success)
	require.Len(t, r.Hosts, 2)
	assert.Equal(t, "gpu-02", r.Hosts[0].Host, "completion order preserved")
	assert.Equal(t, map[string][]string{"gpu-01": {"active"}, "gpu-02": {"active"}}, r.HostMap())
	assert.Equal(t, 2, r.Summary.Queried)
}

func TestHostsRequired(t *testing.T) {
	stub := connectortest.New()
	exec := executor.New(stub)

	for _, params := range []map[string]any{
		{},
		{"hosts": []any{}},
		{"hosts": []any{"$(reboot)"}},
	} {
		_, err := module.Get("journalctl").Run(context.Background(), exec, params)
		var verr *command.ValidationError
		assert.True(t, errors.As(err, &verr), "%v", params)
	}
	assert.Empty(t, stub.Commands())
}

func TestTransportFailure(t *testing.T) {
	exec := executor.New(connectortest.New().FailConnect(errors.New("handshake failed")))

	r, err := module.Get("journalctl").Run(context.Background(), exec, map[string]any{"hosts": "n1"})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.ErrorMessage(), "handshake failed")
	assert.Empty(t, r.Hosts)
	assert.Empty(t, r.RawOutput)
}
