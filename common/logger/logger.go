package logger

import (
	"log/slog"
	"os"

	"basegraph.app/auditor/core/config"
)

// Setup installs the default slog handler: JSON in production, text with
// debug level in development.
func Setup(cfg config.Config) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
