// Package logger wires log/slog for the console and for per-procedure log buffers.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level is the process-wide console level.
var Level = &slog.LevelVar{}

// ParseLevel maps a config or flag level name onto a slog level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "err", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewConsoleHandler returns a colored handler for terminals and a plain text
// handler otherwise.
func NewConsoleHandler(f *os.File) slog.Handler {
	if IsTerminal(f) {
		return tint.NewHandler(f, &tint.Options{
			Level:      Level,
			TimeFormat: "15:04:05",
		})
	}
	return slog.NewTextHandler(f, &slog.HandlerOptions{Level: Level})
}

// New returns a console logger writing to stderr.
func New() *slog.Logger {
	return slog.New(NewConsoleHandler(os.Stderr))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(99)}))
}

type ctxKey struct{}

// WithContext attaches l to ctx. Lower layers pick it up with FromContext so that
// their diagnostics land in the log of whichever procedure is running.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or a discarding logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Discard()
}
