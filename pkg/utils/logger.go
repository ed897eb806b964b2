package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	logLevel   = new(slog.LevelVar)
)

// InitLogger configures the process-wide logger. Safe to call more than once;
// later calls only change the level.
func InitLogger(level ...string) {
	if len(level) > 0 {
		logLevel.Set(ParseLevel(level[0]))
	}
	loggerOnce.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	})
}

// GetLogger returns the shared logger, initializing it with defaults if needed.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}

// ParseLevel maps a level name to slog.Level. Unknown names map to info.
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

// MaskSensitiveString hides all but the first and last four characters.
func MaskSensitiveString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
