package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a LOG_LEVEL style name to a slog level. Unknown names
// return fallback.
func ParseLevel(name string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return fallback
	}
}

// New returns a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init installs the default logger on stderr. The CLI keeps quiet unless
// asked: LOG_LEVEL overrides the default of errors only, and verbose
// forces debug.
func Init(verbose bool) {
	level := slog.LevelError
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, level)
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(New(os.Stderr, level))
}

// InitServer installs the broker's default logger. The server logs at
// info unless configured otherwise.
func InitServer(levelName string) *slog.Logger {
	logger := New(os.Stderr, ParseLevel(levelName, slog.LevelInfo))
	slog.SetDefault(logger)
	return logger
}
