package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/IshaanNene/hotline-scraper/internal/config"
)

// NewLogger builds the process logger from config. verbose forces debug level.
func NewLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	return newLogger(os.Stderr, cfg, verbose)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
