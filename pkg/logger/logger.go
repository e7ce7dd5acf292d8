package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelCritical sits above slog.LevelError for failures that need a page.
const LevelCritical = slog.Level(12)

// New returns a production-friendly structured logger.
// An explicit level (DEBUG, INFO, WARNING, ERROR, CRITICAL) wins; otherwise
// local and dev environments log at debug.
func New(appEnv, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

// NewWithWriter is New with a caller-supplied sink (tests).
func NewWithWriter(w io.Writer, appEnv, level string) *slog.Logger {
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = slog.LevelInfo
		if appEnv == "local" || appEnv == "dev" {
			lvl = slog.LevelDebug
		}
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l >= LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	})
	return slog.New(h)
}

// ParseLevel maps LOG_LEVEL names onto slog levels. ok is false for blank or
// unknown names.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARNING", "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	case "CRITICAL":
		return LevelCritical, true
	default:
		return slog.LevelInfo, false
	}
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush is a placeholder for future log flushing (if a buffered logger is used).
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
