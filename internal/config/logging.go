package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: text on stderr, plus JSON lines to
// logFile when one is configured. The returned func closes the file.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	if logFile == "" {
		return newLogger(os.Stderr, nil, level), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return newLogger(os.Stderr, nil, level), func() error { return nil }
	}
	return newLogger(os.Stderr, file, level), file.Close
}

// newLogger writes text to console and, when file is non-nil, JSON to file.
func newLogger(console, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	consoleHandler := slog.NewTextHandler(console, opts)
	if file == nil {
		return slog.New(consoleHandler)
	}
	return slog.New(slogmulti.Fanout(consoleHandler, slog.NewJSONHandler(file, opts)))
}
