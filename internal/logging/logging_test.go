package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestInitJSON(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "json", Level: "debug", Component: "executor", Out: &buf})
	logger.Debug().Str("call_id", "abc").Msg("exec")

	var event map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	assert.Equal(t, "debug", event["level"])
	assert.Equal(t, "executor", event["component"])
	assert.Equal(t, "abc", event["call_id"])
	assert.Equal(t, "exec", event["message"])
}

func TestInitConsole(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "console", Out: &buf})
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestAutoFormatNonTerminal(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "auto", Out: &buf})
	logger.Info().Msg("plain")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"trace":    zerolog.TraceLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{Format: "json", Level: "warn", Out: &buf})
	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())
	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{EnvLevel: "debug", EnvFormat: "console"}
	cfg := Config{}.FromEnv(func(k string) string { return env[k] })
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg = Config{Level: "error"}.FromEnv(func(k string) string { return env[k] })
	assert.Equal(t, "error", cfg.Level, "explicit value wins")
}

func TestWithComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{Format: "json", Out: &buf})
	l := WithComponent("session")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"session"`)
}
