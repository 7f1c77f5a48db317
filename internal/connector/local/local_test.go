package local

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/connector"
)

func TestExecute(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	res, err := c.Execute(ctx, "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecuteEnv(t *testing.T) {
	c := New(WithEnv("FLEETCMD_TEST_VALUE=42"))
	res, err := c.Execute(context.Background(), `printf %s "$FLEETCMD_TEST_VALUE"`)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Stdout)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Execute(ctx, "sleep 5")
	var terr *connector.TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestConnectMissingShell(t *testing.T) {
	c := New(WithShell("/nonexistent/shell", "-c"))
	err := c.Connect(context.Background())
	var terr *connector.TransportError
	assert.True(t, errors.As(err, &terr))
}

// TestQuotedArgumentsSurviveShell feeds quoted command lines through a real
// shell and checks every argument arrives as one literal word.
func TestQuotedArgumentsSurviveShell(t *testing.T) {
	args := []string{
		"a;b", "c|d", "e&f", "g>h", "with space", "$(id)", "`id`", "*", "it's", `"dq"`, "", "~", "#x",
	}
	spec := command.New("printf", append([]string{"%s\\n"}, args...)...)
	require.NoError(t, spec.Validate())

	res, err := New().Execute(context.Background(), spec.String())
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, res.Stderr)

	got := strings.Split(strings.TrimSuffix(res.Stdout, "\n"), "\n")
	assert.Equal(t, args, got)
}

func TestAssignmentIsNotCommandPrefix(t *testing.T) {
	spec := command.New("FLEETCMD_X=1", "true")
	res, err := New().Execute(context.Background(), spec.String())
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode, "the whole word is looked up as a command")
}

func TestString(t *testing.T) {
	assert.True(t, strings.HasPrefix(New().String(), "local"))
}
