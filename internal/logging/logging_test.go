package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/audiolibrelab/dictate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LevelFor(0))
	assert.Equal(t, slog.LevelDebug, LevelFor(1))
	assert.Equal(t, slog.LevelDebug, LevelFor(3))
	assert.Equal(t, slog.LevelInfo, LevelFor(-1))
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer := newLogger(&console, config.LogConfig{}, slog.LevelInfo)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("Recording started", "attempt", 1)

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Recording started")
	assert.Contains(t, out, "attempt=1")
}

func TestNew_WritesRotatedFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "dictate.log")
	logger, closer := newLogger(&console, config.LogConfig{File: file, MaxSizeMB: 1, MaxBackups: 1}, slog.LevelDebug)

	logger.Debug("Transcription attempt failed", "attempt", 2)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Transcription attempt failed")
	assert.Contains(t, console.String(), "Transcription attempt failed")
}
