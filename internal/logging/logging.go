// Package logging builds the process-wide slog.Logger, grounded on
// core.NewLogger's stdout+file multi-writer handler.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New creates a slog.Logger writing structured text to both stdout and a
// file named "trending.log" under dataDir at the given level. The returned
// cleanup func flushes and closes the log file; callers should defer it.
func New(dataDir, level string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, func() {}, err
	}
	path := filepath.Join(dataDir, "trending.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, func() {}, err
	}

	mw := io.MultiWriter(os.Stdout, f)
	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: parseLevel(level)})
	logger := slog.New(handler)
	log.SetOutput(mw)

	cleanup := func() {
		_ = f.Sync()
		_ = f.Close()
	}
	return logger, cleanup, nil
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
