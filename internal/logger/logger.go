package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"insights/internal/env"
)

// Setup installs the process-wide slog logger. The returned closer releases
// the log file, if one was opened.
func Setup(cfg *env.Config) (io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	slog.SetDefault(slog.New(NewHandler(cfg, out)))

	return closer, nil
}

// NewHandler builds the handler Setup installs: text outside production,
// JSON in production, debug level when asked for.
func NewHandler(cfg *env.Config, out io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}

	if cfg.IsProduction() {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
