package cli

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/fetch"
	"github.com/eunmann/mobility-sync/pkg/logging"
)

func newFetchCmd(a *app) *cobra.Command {
	var once bool
	var url string
	cmd := &cobra.Command{
		Use:   "fetch <dataset>",
		Short: "Poll a source endpoint and archive each capture",
		Long: "Captures the dataset's open data feed into the archive bucket, repeating at the " +
			"feed's interval until interrupted. Feeds without an interval are captured once.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd.Context(), args[0], url, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "capture once and exit")
	cmd.Flags().StringVar(&url, "url", "", "override the source endpoint")
	return cmd
}

func (a *app) fetch(ctx context.Context, name, url string, once bool) error {
	cfg := a.cfg
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	sources := fetch.Sources(reg)
	src, ok := sources[name]
	if !ok {
		known := make([]string, 0, len(sources))
		for n := range sources {
			known = append(known, n)
		}
		sort.Strings(known)
		return fmt.Errorf("unknown dataset %q (known: %s)", name, strings.Join(known, ", "))
	}
	if url != "" {
		src.URL = url
	}
	if once {
		src.Interval = 0
	}

	clients, err := a.clients(ctx, cfg)
	if err != nil {
		return err
	}
	client := fetch.NewClient(&http.Client{Timeout: cfg.Fetch.Timeout}, cfg.Fetch.RequestsPerSecond, cfg.Retry())
	arc := archive.NewReader(clients.S3, cfg.AWS.Bucket, cfg.Retry())
	p := fetch.NewPoller(client, arc, src)

	log := logging.WithPhase("fetch")
	ctx = logctx.WithLogger(ctx, log)
	log.Info().
		Str("dataset", name).
		Str("bucket", arc.Bucket()).
		Dur("interval", src.Interval).
		Msg("Fetching")
	return p.Run(ctx)
}
