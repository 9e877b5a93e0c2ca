package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/humanfmt"
	"github.com/eunmann/mobility-sync/pkg/ingest"
	"github.com/eunmann/mobility-sync/pkg/metrics"
	"github.com/eunmann/mobility-sync/pkg/pricing"
	"github.com/eunmann/mobility-sync/pkg/store"
	"github.com/eunmann/mobility-sync/pkg/writer"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [dataset...]",
		Short: "Ingest new archive records into the destination tables",
		Long: "Runs one incremental pass per dataset (all datasets when none are named): " +
			"lists archive partitions, loads the stored key space and writes only new records. " +
			"Each run report is printed as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.sync(cmd.Context(), args)
		},
	}
}

func (a *app) sync(ctx context.Context, names []string) error {
	log := logctx.FromContext(ctx)
	cfg := a.cfg

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	datasets, err := reg.Lookup(names...)
	if err != nil {
		return err
	}
	clients, err := a.clients(ctx, cfg)
	if err != nil {
		return err
	}

	reader := archive.NewReader(clients.S3, cfg.AWS.Bucket, cfg.Retry())
	reader.PageSize = cfg.Sync.PageSize
	limiter := writer.NewLimiter(cfg.Sync.WriteCapacity)
	recorder := metrics.NewRecorder()
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	var usage []pricing.Usage
	var errs []error
	for _, ds := range datasets {
		table := store.NewTable(clients.Dynamo, ds.Table, cfg.Retry())
		table.PageSize = cfg.Sync.PageSize

		d := ingest.NewDriver(reader, table, ds, ingest.Options{
			Concurrency:       cfg.Sync.Concurrency,
			SkipOpenPartition: cfg.Sync.SkipOpenPartition,
			Writer:            writer.Config{BatchSize: cfg.Sync.BatchSize, Retry: cfg.Retry()},
			Limiter:           limiter,
		})
		rep, err := d.Run(ctx)
		recorder.Observe(rep)
		usage = append(usage, pricing.Usage{Dataset: ds.Name, WriteUnits: int64(rep.WriteUnits)})
		if encErr := enc.Encode(rep); encErr != nil {
			return fmt.Errorf("write report: %w", encErr)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", ds.Name, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	pt, err := a.priceTable()
	if err != nil {
		log.Warn().Err(err).Msg("Price table unavailable, using on-demand defaults")
		pt = pricing.DefaultOnDemandPrices()
	}
	if cost, ok := pricing.ComputeWriteCost(usage, cfg.AWS.Region, pt); ok {
		ev := log.Info().
			Str("region", cfg.AWS.Region).
			Str("write_cost", pricing.FormatCost(cost.TotalMicrodollars)).
			Float64("write_cost_usd", cost.TotalDollars())
		for ds, micro := range cost.PerDatasetMicrodollars {
			ev = ev.Str("write_cost_"+ds, pricing.FormatCost(micro))
		}
		ev.Msg("Estimated write cost")
	} else {
		log.Debug().Str("region", cfg.AWS.Region).Msg("No write price for region")
	}

	if url := cfg.Metrics.PushURL; url != "" {
		if err := recorder.Push(context.WithoutCancel(ctx), url); err != nil {
			log.Warn().Err(err).Msg("Metrics push failed")
		} else {
			log.Debug().Str("url", url).Msg("Metrics pushed")
		}
	}

	total := int64(0)
	for _, u := range usage {
		total += u.WriteUnits
	}
	log.Info().
		Int("datasets", len(datasets)).
		Str("write_units", humanfmt.Count(total)).
		Int("failed", len(errs)).
		Msg("Sync complete")

	return errors.Join(errs...)
}

func (a *app) priceTable() (pricing.PriceTable, error) {
	if a.cfg.Pricing.File == "" {
		return pricing.DefaultOnDemandPrices(), nil
	}
	return pricing.LoadPriceTable(a.cfg.Pricing.File)
}
