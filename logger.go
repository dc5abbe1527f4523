package vectorize

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vectorize-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithIndex adds the index name to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, count, rejected int, err error) {
	l.logMutation(ctx, "insert", count, rejected, err)
}

// LogUpsert logs an upsert operation.
func (l *Logger) LogUpsert(ctx context.Context, count, rejected int, err error) {
	l.logMutation(ctx, "upsert", count, rejected, err)
}

func (l *Logger) logMutation(ctx context.Context, op string, count, rejected int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, op+" failed",
			"error", err,
		)
	case rejected > 0:
		l.WarnContext(ctx, op+" completed with rejections",
			"count", count,
			"rejected", rejected,
		)
	default:
		l.DebugContext(ctx, op+" completed",
			"count", count,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, requested, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"requested", requested,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"requested", requested,
			"deleted", deleted,
		)
	}
}

// LogQuery logs a similarity query.
func (l *Logger) LogQuery(ctx context.Context, topK, matches int, partial bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"top_k", topK,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"top_k", topK,
			"matches", matches,
			"partial", partial,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
			"records", records,
		)
	}
}

// LogRecovery logs a recovery from snapshot and journal.
func (l *Logger) LogRecovery(ctx context.Context, snapshotRecords, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"entries_replayed", entriesReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"snapshot_records", snapshotRecords,
			"entries_replayed", entriesReplayed,
		)
	}
}
