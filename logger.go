package countrydb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with countrydb-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithDir adds the data directory to every record.
func (l *Logger) WithDir(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dir", dir),
	}
}

// LogOpen logs opening a data directory.
func (l *Logger) LogOpen(ctx context.Context, initialized bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "opened",
		"initialized", initialized,
	)
}

// LogIngest logs a build.
func (l *Logger) LogIngest(ctx context.Context, s *BuildSummary, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "ingest failed",
			"error", err,
		)
	case s.Skipped:
		l.InfoContext(ctx, "ingest skipped, table already initialized",
			"entries", s.Entries,
		)
	case s.DroppedRecords > 0:
		l.WarnContext(ctx, "ingest completed with dropped records",
			"source", s.Source,
			"records", s.Records,
			"entries", s.Entries,
			"duplicates", s.Duplicates,
			"dropped", s.DroppedRecords,
			"keyless", s.KeylessRecords,
			"duration", s.Duration,
		)
	default:
		l.InfoContext(ctx, "ingest completed",
			"source", s.Source,
			"records", s.Records,
			"entries", s.Entries,
			"duplicates", s.Duplicates,
			"keyless", s.KeylessRecords,
			"duration", s.Duration,
		)
	}
}

// LogLookup logs a point lookup.
func (l *Logger) LogLookup(ctx context.Context, key string, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "lookup failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "lookup completed",
			"key", key,
			"found", found,
		)
	}
}

// LogResolve logs a border resolution.
func (l *Logger) LogResolve(ctx context.Context, key string, found bool, neighbors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "resolve failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "resolve completed",
			"key", key,
			"found", found,
			"neighbors", neighbors,
		)
	}
}

// LogDecodeFailure logs a stored value that could not be decoded.
func (l *Logger) LogDecodeFailure(ctx context.Context, key string, err error) {
	l.WarnContext(ctx, "decode failed",
		"key", key,
		"error", err,
	)
}
