// Package logging configures the process-wide structured logger.
//
// vaultmcp serves MCP over stdio, so stdout belongs exclusively to
// JSON-RPC frames. All logging goes to stderr, a rotating file, or both.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// FilePath, when set, appends JSON log lines to the given file with
	// size-based rotation.
	FilePath string `yaml:"file_path"`

	// MaxSizeMB caps the log file size before rotation. Defaults to 10.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxFiles caps how many rotated files are kept. Defaults to 3.
	MaxFiles int `yaml:"max_files"`

	// WriteToStderr mirrors log lines to stderr; it is forced on when no
	// FilePath is configured so logs are never silently dropped.
	WriteToStderr bool `yaml:"write_to_stderr"`
}

// DefaultConfig returns the logging defaults used before config and
// environment overrides apply.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		MaxSizeMB:     10,
		MaxFiles:      3,
		WriteToStderr: true,
	}
}

// Setup builds a JSON slog.Logger from cfg and installs it as the slog
// default. The returned cleanup closes the log file, if any, and must be
// called on shutdown.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var writers []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxFiles := cfg.MaxFiles
		if maxFiles <= 0 {
			maxFiles = 3
		}
		rw, err := NewRotatingWriter(cfg.FilePath, int64(maxSize)*1024*1024, maxFiles)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, rw)
		cleanup = func() { _ = rw.Close() }
	}

	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
