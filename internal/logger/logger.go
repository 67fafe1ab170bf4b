// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context, tees it into a
// size-rotated file, and propagates a request ID through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options controls where logs go.
type Options struct {
	Level  slog.Level
	LogDir string    // empty disables the rotating file
	Stdout io.Writer // defaults to os.Stdout
}

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout and, when LogDir is set, to
// LogDir/<service>.log with rotation.
func Init(service string, opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if opts.Stdout != nil {
		out = opts.Stdout
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err == nil {
			out = io.MultiWriter(out, &lumberjack.Logger{
				Filename:   filepath.Join(opts.LogDir, service+".log"),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a config string to a slog level. Unknown values yield Info.
func ParseLevel(s string) slog.Level {
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

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

var traceSeq atomic.Uint64

// GenerateTraceID creates a trace ID from an operation name and timestamp.
// Format: "{op}-{unixNano}-{seq}"; the sequence keeps IDs unique within a
// process even when two calls share a nanosecond.
func GenerateTraceID(op string, ts time.Time) string {
	return fmt.Sprintf("%s-%d-%d", op, ts.UnixNano(), traceSeq.Add(1))
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
