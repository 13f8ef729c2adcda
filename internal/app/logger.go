package app

import (
	"io"
	"log/slog"
)

// newLogger builds the app's isolated slog.Logger. The daemon defaults to
// JSON so editor integrations can parse its output; tests and interactive
// runs pass "text". The global logger is left untouched.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(levelStr)}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}

// parseLogLevel maps a CLI level name onto slog. Unknown names fall back
// to info rather than erroring; the CLI validates user input upstream.
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
