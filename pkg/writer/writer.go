// Package writer commits new records to a destination table in bounded
// chunks and keeps the inventory in step with what is committed.
package writer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/record"
	"github.com/eunmann/mobility-sync/pkg/retry"
	"github.com/eunmann/mobility-sync/pkg/store"
)

// Table is the write side of a destination table.
type Table interface {
	Name() string
	BatchWrite(ctx context.Context, items []store.Item) ([]store.Item, error)
}

// Committer receives the keys of every fully committed chunk.
type Committer interface {
	Add(keys ...string)
}

// Config controls chunking and retries.
type Config struct {
	// BatchSize is the number of items per BatchWriteItem call, at most 25.
	// Default: 25.
	BatchSize int

	// Retry bounds the attempts for a chunk, counting both error retries
	// and unprocessed-item resubmissions.
	Retry retry.Config
}

// DefaultConfig returns full batches and the default retry policy.
func DefaultConfig() Config {
	return Config{BatchSize: store.MaxBatchItems, Retry: retry.DefaultConfig()}
}

// CommitResult summarizes one Write call.
type CommitResult struct {
	Written    int
	Chunks     int
	Retries    int
	WriteUnits int
}

func (r *CommitResult) add(o CommitResult) {
	r.Written += o.Written
	r.Chunks += o.Chunks
	r.Retries += o.Retries
	r.WriteUnits += o.WriteUnits
}

// BatchWriter writes records to one table.
type BatchWriter struct {
	table   Table
	inv     Committer
	limiter *rate.Limiter
	cfg     Config
}

// NewLimiter returns the shared write budget in items per second. A
// non-positive rate disables throttling.
func NewLimiter(itemsPerSecond float64) *rate.Limiter {
	if itemsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(itemsPerSecond), max(store.MaxBatchItems, int(math.Ceil(itemsPerSecond))))
}

// New returns a writer for table. limiter may be shared between writers.
func New(table Table, inv Committer, limiter *rate.Limiter, cfg Config) *BatchWriter {
	if cfg.BatchSize <= 0 || cfg.BatchSize > store.MaxBatchItems {
		cfg.BatchSize = store.MaxBatchItems
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &BatchWriter{table: table, inv: inv, limiter: limiter, cfg: cfg}
}

// Write commits records in chunks; keys[i] is the key of records[i].
//
// Cancellation is honored between chunks only: once a chunk is submitted
// its retries run to completion so the inventory never lags the store. On
// error the result still counts every chunk committed before it.
func (w *BatchWriter) Write(ctx context.Context, records []record.Record, keys []string) (CommitResult, error) {
	var res CommitResult
	if len(records) != len(keys) {
		return res, fmt.Errorf("write %s: %d records but %d keys", w.table.Name(), len(records), len(keys))
	}

	for start := 0; start < len(records); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(records))

		items := make([]store.Item, 0, end-start)
		for i := start; i < end; i++ {
			item, err := store.ToItem(records[i])
			if err != nil {
				return res, fmt.Errorf("convert record %s: %w", keys[i], err)
			}
			items = append(items, item)
		}

		if err := w.limiter.WaitN(ctx, len(items)); err != nil {
			return res, fmt.Errorf("wait for write capacity: %w", err)
		}

		began := time.Now()
		chunk, err := w.writeChunk(context.WithoutCancel(ctx), items)
		res.add(chunk)
		if err != nil {
			return res, err
		}
		w.inv.Add(keys[start:end]...)

		logging.BatchComplete(logctx.FromContext(ctx), "write", time.Since(began)).
			Str("table", w.table.Name()).
			Count("items", int64(chunk.Written)).
			Count("retries", int64(chunk.Retries)).
			Log("chunk committed")
	}
	return res, nil
}

// writeChunk submits one chunk and resubmits only what the service leaves
// unprocessed. Throttling and other transient errors back off and retry the
// pending items.
func (w *BatchWriter) writeChunk(ctx context.Context, items []store.Item) (CommitResult, error) {
	cfg := w.cfg.Retry
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultConfig().MaxAttempts
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = retry.IsTransient
	}

	res := CommitResult{Chunks: 1}
	pending := items
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			res.Retries++
			if err := retry.Sleep(ctx, retry.Backoff(attempt-1, cfg)); err != nil {
				return res, err
			}
		}

		unprocessed, err := w.table.BatchWrite(ctx, pending)
		if err != nil {
			if !shouldRetry(err) {
				return res, w.partial(pending, res, err)
			}
			lastErr = err
			log := logctx.FromContext(ctx)
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("pending", len(pending)).
				Msg("batch write failed, backing off")
			continue
		}

		res.Written += len(pending) - len(unprocessed)
		res.WriteUnits += units(pending) - units(unprocessed)
		if len(unprocessed) == 0 {
			return res, nil
		}
		pending = unprocessed
		lastErr = nil
	}

	if lastErr != nil {
		lastErr = &retry.ExhaustedError{Op: "dynamodb.BatchWriteItem", Attempts: cfg.MaxAttempts, Err: lastErr}
	}
	return res, w.partial(pending, res, lastErr)
}

func (w *BatchWriter) partial(pending []store.Item, res CommitResult, err error) error {
	return &store.PartialWriteError{
		Table:       w.table.Name(),
		Unprocessed: len(pending),
		Written:     res.Written,
		Err:         err,
	}
}

func units(items []store.Item) int {
	n := 0
	for _, it := range items {
		n += store.WriteUnits(it)
	}
	return n
}

// IsPartial reports whether err left items of a chunk unwritten.
func IsPartial(err error) bool {
	var pw *store.PartialWriteError
	return errors.As(err, &pw)
}
