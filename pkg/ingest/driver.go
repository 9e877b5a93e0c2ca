// Package ingest drives one incremental sync of a dataset from the archive
// into its destination table.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/delta"
	"github.com/eunmann/mobility-sync/pkg/inventory"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/record"
	"github.com/eunmann/mobility-sync/pkg/writer"
)

// Archive is the read side of the raw archive.
type Archive interface {
	ListPartitions(ctx context.Context, prefix string) ([]string, error)
	ListObjects(ctx context.Context, prefix, partition string) ([]archive.Location, error)
	ReadObjects(ctx context.Context, locs []archive.Location) iter.Seq2[archive.Batch, error]
}

// Table is a destination table.
type Table interface {
	inventory.Scanner
	writer.Table
}

// Options tunes a Driver.
type Options struct {
	// Concurrency bounds partitions processed at once for partition-keyed
	// datasets. Default: 4. Identifier datasets always process one partition
	// at a time: the same identifier recurs in every date folder, and a key
	// must be committed before any other partition resolves it.
	Concurrency int

	// SkipOpenPartition defers today's (UTC) partition for partition-keyed
	// datasets, since ingesting a day that is still being written would
	// mark it done while incomplete.
	SkipOpenPartition bool

	Writer  writer.Config
	Limiter *rate.Limiter

	// RunID labels the run. Generated when empty.
	RunID string

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// ErrInventory marks a run aborted because the inventory could not be built.
var ErrInventory = errors.New("inventory unavailable")

// Driver syncs one dataset.
type Driver struct {
	archive Archive
	table   Table
	ds      dataset.Dataset
	opts    Options
	state   atomic.Int32
}

// NewDriver returns a driver for ds.
func NewDriver(arc Archive, table Table, ds dataset.Dataset, opts Options) *Driver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Limiter == nil {
		opts.Limiter = writer.NewLimiter(0)
	}
	return &Driver{archive: arc, table: table, ds: ds, opts: opts}
}

// State returns the current run state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Run performs one sync pass. The report is always returned; the error is
// set when the run could not complete: a listing or inventory failure, or
// cancellation. Partition failures are only recorded in the report.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	runID := d.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logctx.WithRun(ctx, logctx.FromContext(ctx), runID, d.ds.Name)
	log := logctx.FromContext(ctx)

	report := &Report{RunID: runID, Dataset: d.ds.Name, Started: d.opts.Now()}
	start := time.Now()
	defer d.setState(StateIdle)

	finish := func(err error) (*Report, error) {
		d.setState(StateReporting)
		report.Duration = time.Since(start)
		if err != nil {
			report.Error = err.Error()
		}
		report.Log(log)
		return report, err
	}

	d.setState(StateListingPartitions)
	partitions, err := d.archive.ListPartitions(ctx, d.ds.Prefix)
	if err != nil {
		return finish(fmt.Errorf("list partitions: %w", err))
	}
	if len(partitions) == 0 {
		report.Message = NothingToDo
		return finish(nil)
	}

	d.setState(StateBuildingInventory)
	inv, err := inventory.Build(ctx, d.table, d.ds.Projection(), func(item map[string]any) (string, bool) {
		return d.ds.Key(record.Record(item))
	})
	if err != nil {
		return finish(fmt.Errorf("%w: %w", ErrInventory, err))
	}

	pending, skipped := d.plan(partitions, inv)
	for _, p := range skipped {
		report.add(p)
	}
	report.Missing = append(report.Missing, pending...)
	if len(pending) == 0 {
		report.Message = NothingToDo
		return finish(nil)
	}

	log.Info().
		Int("partitions", len(partitions)).
		Int("pending", len(pending)).
		Int("inventory_keys", inv.Len()).
		Msg("processing partitions")

	d.setState(StateProcessingPartitions)
	w := writer.New(d.table, inv, d.opts.Limiter, d.opts.Writer)
	tracker := logging.NewProgressTracker(int64(len(pending)))
	results := make([]PartitionReport, len(pending))

	var g errgroup.Group
	g.SetLimit(d.workers())
	for i, partition := range pending {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = PartitionReport{Partition: partition, Status: StatusCancelled}
				tracker.RecordSkip()
				return nil
			}
			pctx := logctx.WithPartition(ctx, partition)
			began := time.Now()
			results[i] = d.processPartition(pctx, inv, w, partition)
			results[i].Duration = time.Since(began)
			tracker.RecordCompletion(results[i].Duration)

			pr := &results[i]
			logging.PartitionComplete(logctx.FromContext(pctx), "sync", pr.Duration).
				Str("status", string(pr.Status)).
				Count("objects", int64(pr.ObjectsListed)).
				Count("inserted", int64(pr.Inserted)).
				Count("records_skipped", int64(pr.SkippedDuplicates+pr.SkippedNoKey)).
				Err(pr.Err()).
				Progress(tracker).
				Log("partition done")
			return nil
		})
	}
	_ = g.Wait()

	report.KeysAdded = inv.Added()
	for _, p := range results {
		report.add(p)
	}
	return finish(ctx.Err())
}

// workers returns the partition pool size for the dataset.
func (d *Driver) workers() int {
	if d.ds.Mode == dataset.KeyIdentifier {
		return 1
	}
	return d.opts.Concurrency
}

// plan splits partitions into the ones to process and the ones skipped
// without listing: stored dates and the open day of partition datasets.
func (d *Driver) plan(partitions []string, inv *inventory.Inventory) (pending []string, skipped []PartitionReport) {
	if d.ds.Mode != dataset.KeyPartition {
		return partitions, nil
	}
	today := d.opts.Now().UTC().Format(dataset.DateLayout)
	for _, p := range partitions {
		switch {
		case inv.Contains(p):
			skipped = append(skipped, PartitionReport{Partition: p, Status: StatusSkipped})
		case d.opts.SkipOpenPartition && p >= today:
			skipped = append(skipped, PartitionReport{Partition: p, Status: StatusDeferred})
		default:
			pending = append(pending, p)
		}
	}
	return pending, skipped
}

func (d *Driver) processPartition(ctx context.Context, inv *inventory.Inventory, w *writer.BatchWriter, partition string) PartitionReport {
	pr := PartitionReport{Partition: partition, Status: StatusIngested}
	log := logctx.FromContext(ctx)

	locs, err := d.archive.ListObjects(ctx, d.ds.Prefix, partition)
	if err != nil {
		pr.fail(fmt.Errorf("list objects: %w", err))
		return pr
	}
	pr.ObjectsListed = len(locs)

	var readErrs []error
	for batch, err := range d.archive.ReadObjects(ctx, locs) {
		if err != nil {
			if ctx.Err() != nil {
				pr.fail(err)
				return pr
			}
			pr.ObjectsFailed++
			readErrs = append(readErrs, err)
			continue
		}

		pr.Undecodable += len(batch.DecodeErrors)
		for _, de := range batch.DecodeErrors {
			log.Debug().
				Str("key", batch.Location.Key).
				Int("index", de.Index).
				Err(de.Err).
				Msg("dropping undecodable record")
		}

		res := delta.Resolve(batch.Records, inv, d.ds)
		pr.SkippedDuplicates += res.Duplicates
		pr.SkippedNoKey += res.NoKey
		if len(res.New) == 0 {
			continue
		}

		commit, err := w.Write(ctx, res.New, res.Keys)
		pr.Inserted += commit.Written
		pr.WriteUnits += commit.WriteUnits
		if err != nil {
			pr.fail(fmt.Errorf("write %s: %w", batch.Location.Key, err))
			pr.PartialWrite = writer.IsPartial(err)
			return pr
		}
	}

	if len(readErrs) > 0 {
		pr.fail(fmt.Errorf("%d of %d objects unreadable: %w", len(readErrs), len(locs), errors.Join(readErrs...)))
	}
	return pr
}
