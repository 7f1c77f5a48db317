package docker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

func TestBuildExecArgs(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want []string
	}{
		{
			name: "defaults",
			want: []string{"exec", "-i", "login", "/bin/sh", "-c", "sinfo"},
		},
		{
			name: "user and workdir",
			opts: []Option{WithUser("slurm"), WithWorkdir("/home/slurm")},
			want: []string{"exec", "-i", "-u", "slurm", "-w", "/home/slurm", "login", "/bin/sh", "-c", "sinfo"},
		},
		{
			name: "env sorted",
			opts: []Option{WithEnv("B", "2"), WithEnv("A", "1")},
			want: []string{"exec", "-i", "-e", "A=1", "-e", "B=2", "login", "/bin/sh", "-c", "sinfo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("login", tt.opts...)
			assert.Equal(t, tt.want, c.buildExecArgs("sinfo"))
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "docker://login", New("login").String())
	assert.Equal(t, "docker://root@login", New("login", WithUser("root")).String())
}

// fakeDocker writes a shell script standing in for the docker CLI.
func fakeDocker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestConnectAndExecute(t *testing.T) {
	bin := fakeDocker(t, `
case "$1" in
  inspect) echo true ;;
  exec) shift; while [ "$1" != "/bin/sh" ]; do shift; done; shift; shift; echo "ran: $1"; echo warn >&2; exit 2 ;;
esac
`)
	c := New("login", WithBinary(bin))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	res, err := c.Execute(ctx, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "ran: hostname\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, 2, res.ExitCode)
}

func TestConnectNotRunning(t *testing.T) {
	c := New("login", WithBinary(fakeDocker(t, "echo false\n")))
	err := c.Connect(context.Background())
	var terr *connector.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Contains(t, err.Error(), "is not running")
}

func TestConnectMissingBinary(t *testing.T) {
	c := New("login", WithBinary("/nonexistent/docker"))
	err := c.Connect(context.Background())
	assert.Error(t, err)
}
