package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// Ctx is a shorter alias for FromContext.
func Ctx(ctx context.Context) *zerolog.Logger {
	return FromContext(ctx)
}

// WithField adds a single string field to the logger in the context.
func WithField(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, &logger)
}

// WithRunID tags every log line of a sync run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return WithField(ctx, "run_id", runID)
}

// WithPass records which sync direction is running.
func WithPass(ctx context.Context, pass string) context.Context {
	return WithField(ctx, "pass", pass)
}

// WithRecord adds the natural key of the record being processed.
func WithRecord(ctx context.Context, key string) context.Context {
	return WithField(ctx, "record", key)
}

// WithOwner adds the owner name being processed.
func WithOwner(ctx context.Context, owner string) context.Context {
	return WithField(ctx, "owner", owner)
}
