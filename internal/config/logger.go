package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the structured logger: JSON in prod, text elsewhere.
// LOG_LEVEL selects debug, info (default), warn or error.
func NewLogger(env string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(envStr("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if env == "prod" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
