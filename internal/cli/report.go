package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/analytics"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/store"
)

func newReportCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the daily mobility report from the destination tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date == "" {
				date = time.Now().UTC().AddDate(0, 0, -1).Format(dataset.DateLayout)
			}
			if !dataset.IsDate(date) {
				return fmt.Errorf("--date %q is not YYYY-MM-DD", date)
			}
			return a.report(cmd.Context(), date)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "capture date to report on (default yesterday, UTC)")
	return cmd
}

func (a *app) report(ctx context.Context, date string) error {
	cfg := a.cfg
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	clients, err := a.clients(ctx, cfg)
	if err != nil {
		return err
	}

	table := func(name string) *store.Table {
		t := store.NewTable(clients.Dynamo, name, cfg.Retry())
		t.PageSize = cfg.Sync.PageSize
		return t
	}
	r := &analytics.Reporter{
		Traffic:       table(reg["traffic"].Table),
		Perturbations: table(reg["perturbations"].Table),
		Parkings:      table(reg["parkings"].Table),
		Reports:       table(cfg.Analytics.Table),
	}
	log := logging.WithPhase("report")
	if cfg.Analytics.Export {
		arc := archive.NewReader(clients.S3, cfg.AWS.Bucket, cfg.Retry())
		r.Export = arc
		log = log.With().Str("bucket", arc.Bucket()).Logger()
	}

	rep, err := r.Run(logctx.WithLogger(ctx, log), date)
	if err != nil {
		return fmt.Errorf("report %s: %w", date, err)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
