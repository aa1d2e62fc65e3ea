package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("test")
	log.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "subsystem=test")
}

func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test2")

	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log.Info("after switch", "key", "value")
	assert.Contains(t, buf.String(), "after switch")
}

func TestParseConfig(t *testing.T) {
	cfg := parseConfig("rendezvous=debug, agent=warn ,error", "json")

	assert.Equal(t, slog.LevelError, cfg.DefaultLevel)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("rendezvous"))
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("rendezvous.store"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("agent"))
	assert.Equal(t, slog.LevelError, cfg.LevelForSubsystem("resolver"))
}

func TestParseConfig_IgnoresUnknownLevels(t *testing.T) {
	cfg := parseConfig("resolver=loud,verbose", "")

	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
	assert.Empty(t, cfg.SubsystemLevels)
	assert.Equal(t, FormatText, cfg.Format)
}

func TestApply_UpdatesExistingLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("apply.test")
	Apply("apply.test=error", "")
	log.Warn("hidden")
	require.NotContains(t, buf.String(), "hidden")

	Apply("apply.test=debug", "")
	log.Debug("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	require.NotNil(t, l)
	assert.False(t, l.Enabled(nil, slog.LevelError))
}
