// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a text logger as the slog default and returns it. Output
// goes to logPath when it can be opened for append, otherwise to
// defaultWriter. The returned func closes the log file, if any.
func Setup(logLevel, logPath string, defaultWriter io.Writer) (*slog.Logger, func() error) {
	level := ParseLevel(logLevel)

	logWriter := defaultWriter
	closeFn := func() error { return nil }
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			tempLogger := slog.New(slog.NewTextHandler(defaultWriter, nil))
			tempLogger.Error("failed to open log file, falling back to default writer", "path", logPath, "error", err)
		} else {
			logWriter = logFile
			closeFn = logFile.Close
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	logger := slog.New(slog.NewTextHandler(logWriter, opts))
	slog.SetDefault(logger)
	return logger, closeFn
}
