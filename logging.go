package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
)

const logFilePermissions = 0o600

// buildLogger creates the process logger. log_format "auto" picks text on a
// terminal and JSON otherwise; a configured log_file receives the output
// instead of stderr. The returned closer releases the file.
func buildLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	var (
		out    io.Writer = os.Stderr
		closer           = func() error { return nil }
		isTTY            = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		format           = "auto"
	)

	if cfg != nil {
		format = cfg.Logging.LogFormat

		if cfg.Logging.LogFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Logging.LogFile), 0o700); err != nil {
				return nil, nil, fmt.Errorf("creating log directory: %w", err)
			}

			f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
			if err != nil {
				return nil, nil, fmt.Errorf("opening log file: %w", err)
			}

			out, closer, isTTY = f, f.Close, false
		}
	}

	return slog.New(newLogHandler(out, format, isTTY, logLevel(cfg))), closer, nil
}

func newLogHandler(out io.Writer, format string, isTTY bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch {
	case format == "json", format == "auto" && !isTTY:
		return slog.NewJSONHandler(out, opts)
	default:
		return slog.NewTextHandler(out, opts)
	}
}
