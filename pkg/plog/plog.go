// Package plog is the application-wide structured logger.
//
// It is a thin front over log/slog with one extra level (NOTICE, used for
// per-entry operation output like COPY/DIR/DELETE lines) and a dispatching
// handler that sends INFO and below to stdout and WARN and above to stderr,
// so that machine-readable operation output and human-facing problems stay
// on separate streams.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// LevelNotice sits between INFO and WARN. It carries per-entry operation
// records (one line per file copied, directory created, entry deleted).
const LevelNotice = slog.Level(2)

// levelNames maps the custom level to its display name.
var levelNames = map[slog.Leveler]string{
	LevelNotice: "NOTICE",
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger atomic.Pointer[slog.Logger]
var levelVar = new(slog.LevelVar) // shared by both stream handlers
var quietMode atomic.Bool         // Use an atomic bool for safe concurrent reads.

// handlerOptions renames the custom NOTICE level so it does not render as
// "INFO+2".
func handlerOptions(minLevel slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: minLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if name, ok := levelNames[level]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}
}

func init() {
	levelVar.Set(slog.LevelInfo)

	// Handler for info-level logs (and below) to stdout
	stdoutHandler := slog.NewTextHandler(os.Stdout, handlerOptions(levelVar))

	// Handler for warning/error-level logs to stderr
	stderrHandler := slog.NewTextHandler(os.Stderr, handlerOptions(slog.LevelWarn))

	defaultLogger.Store(slog.New(&LevelDispatchHandler{
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	}))
}

// SetOutput allows redirecting the logger's output, primarily for testing.
func SetOutput(w io.Writer) {
	// When redirecting output for tests, ensure quiet mode is off
	// so that all levels are written to the provided writer.
	quietMode.Store(false)
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, handlerOptions(levelVar))))
}

// SetLevel sets the minimum level emitted on the stdout stream. The stderr
// stream always starts at WARN.
func SetLevel(l slog.Level) {
	levelVar.Set(l)
}

// LevelFromString maps a configuration string to a slog.Level. Unknown
// strings fall back to INFO.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetQuiet enables or disables quiet mode for the global logger.
// In quiet mode, INFO and NOTICE level logs are suppressed.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Load().Debug(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Info(msg, args...)
}

// Notice logs a per-entry operation record.
func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Log(context.Background(), LevelNotice, msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
