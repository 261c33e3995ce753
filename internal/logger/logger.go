package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/tradewind-settlement/internal/config"
)

// NewLogger builds the process-wide slog.Logger. Output is JSON on stdout,
// stamped with the application name and environment so the two settlement
// binaries are distinguishable in aggregated logs.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.Logging.Level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		// Source locations only at debug, they are noise in production logs
		AddSource: level == slog.LevelDebug,
	})

	logger := slog.New(handler).With(
		"app", cfg.Application.Name,
		"env", cfg.Application.Env,
	)
	logger.Info("logger initialized", "level", level.String())

	return logger
}

// ForComponent returns a child logger tagged with the component name
func ForComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
