package knnlib

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with operation helpers using consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// WithPath adds an index path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogBuild logs a build operation.
func (l *Logger) LogBuild(ctx context.Context, path, description string, count int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"path", path,
			"description", description,
			"count", count,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index built",
		"path", path,
		"description", description,
		"count", count,
		"duration", duration,
	)
}

// LogLoad logs a load operation.
func (l *Logger) LogLoad(ctx context.Context, path string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"path", path,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "index loaded",
		"path", path,
		"duration", duration,
	)
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"k", k,
		"results", results,
	)
}

// LogEviction logs a cache eviction.
func (l *Logger) LogEviction(ctx context.Context, path, reason string) {
	l.InfoContext(ctx, "index evicted",
		"path", path,
		"reason", reason,
	)
}
