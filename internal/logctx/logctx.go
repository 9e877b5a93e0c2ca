// Package logctx carries a zerolog logger through context.Context.
//
// The sync driver attaches run_id and dataset at the top of a run and
// partition for each partition worker, so every log line below (archive
// reads, batch writes, retries) is attributable without threading a logger
// through every signature.
//
//	ctx = logctx.WithRun(ctx, logger, runID, "parkings")
//	ctx = logctx.WithPartition(ctx, "2025-01-01")
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("listing objects")
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

func initDefaultLogger() {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the logger used when a context carries none.
func DefaultLogger() zerolog.Logger {
	initDefaultLogger()
	return defaultLogger
}

// SetDefaultLogger overrides the default logger. Call it from main before
// any goroutine uses FromContext.
func SetDefaultLogger(l zerolog.Logger) {
	initDefaultLogger()
	defaultLogger = l
}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// default logger. It never returns a zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithStr returns a new context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithRun attaches base enriched with the run id and dataset name.
func WithRun(ctx context.Context, base zerolog.Logger, runID, dataset string) context.Context {
	logger := base.With().Str("run_id", runID).Str("dataset", dataset).Logger()
	return WithLogger(ctx, logger)
}

// WithPartition adds the partition field to the context logger.
func WithPartition(ctx context.Context, partition string) context.Context {
	return WithStr(ctx, "partition", partition)
}
