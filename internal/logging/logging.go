package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/dictate/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelFor maps the -v flag to a slog level: 0=info, 1 and above=debug
func LevelFor(verbose int) slog.Level {
	if verbose >= 1 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New builds a text logger writing to stderr and, when cfg.File is set, to a
// size-rotated log file. The returned closer flushes and closes that file.
func New(cfg config.LogConfig, level slog.Level) (*slog.Logger, io.Closer) {
	return newLogger(os.Stderr, cfg, level)
}

func newLogger(console io.Writer, cfg config.LogConfig, level slog.Level) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: level}

	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(console, opts)), nopCloser{}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		logger := slog.New(slog.NewTextHandler(console, opts))
		logger.Warn("Cannot create log directory, logging to stderr only", "file", cfg.File, "error", err)
		return logger, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	handler := slog.NewTextHandler(io.MultiWriter(console, rotator), opts)
	return slog.New(handler), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
