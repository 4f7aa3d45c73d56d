package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/leadpulse/leadpulse/common/middleware"
)

type ctxKey int

const (
	channelKey ctxKey = iota
	replayIDKey
)

// Logger wraps slog.Logger to provide context-aware structured logging.
// It picks up the request ID, CDC channel and replay ID carried in a context.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to stdout.
// format can be "json" or "text" (default is json).
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelError,
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Default returns the default logger (uses slog.Default).
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// ContextWithChannel stores the CDC channel being processed in ctx.
func ContextWithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// ContextWithReplayID stores the replay ID of the envelope being processed in ctx.
func ContextWithReplayID(ctx context.Context, replayID string) context.Context {
	return context.WithValue(ctx, replayIDKey, replayID)
}

// ReplayIDFromContext returns the replay ID stored by ContextWithReplayID.
func ReplayIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(replayIDKey).(string)
	return id
}

// WithContext returns a logger enriched with the request ID, channel and
// replay ID found in ctx. Missing values are omitted.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	return FromContext(ctx, l.Logger)
}

// FromContext enriches base with the contextual fields carried in ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var attrs []any
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		attrs = append(attrs, slog.String(FieldRequestID, reqID))
	}
	if ch, ok := ctx.Value(channelKey).(string); ok && ch != "" {
		attrs = append(attrs, Channel(ch))
	}
	if id, ok := ctx.Value(replayIDKey).(string); ok && id != "" {
		attrs = append(attrs, ReplayID(id))
	}
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}

// InfoContext logs at Info level with context-aware fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs at Warn level with context-aware fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs at Error level with context-aware fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// DebugContext logs at Debug level with context-aware fields.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).DebugContext(ctx, msg, args...)
}

// With returns a new logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithGroup returns a new logger with the given group name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name)}
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unknown values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the application.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
