// Package sitelog wraps log/slog with the text handler the way
// internal/devops/supervisor constructs its logger, adding the
// configuration-driven level and optional file destination from the
// logging config (§6).
package sitelog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var levelByName = map[string]slog.Level{
	"debug":    slog.LevelDebug,
	"info":     slog.LevelInfo,
	"warn":     slog.LevelWarn,
	"warning":  slog.LevelWarn,
	"error":    slog.LevelError,
	"critical": slog.LevelError + 4,
}

// New builds a text-handler logger writing to path (or stdout if path is
// empty) at the given level name.
func New(path, level string) (*slog.Logger, error) {
	lvl, ok := levelByName[level]
	if !ok {
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("sitelog: open %s: %w", path, err)
		}
		out = f
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), nil
}
