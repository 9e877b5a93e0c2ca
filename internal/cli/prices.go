package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/pricing"
)

func newPriceTableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "price-table <path>",
		Short: "Write the active write price table as JSON",
		Long: "Writes the price table sync estimates costs with (pricing.file when set, the " +
			"built-in on-demand prices otherwise) so it can be edited and pointed to by pricing.file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := a.priceTable()
			if err != nil {
				return err
			}
			if err := pricing.SavePriceTable(args[0], pt); err != nil {
				return err
			}
			log := logctx.FromContext(cmd.Context())
			log.Info().
				Str("path", args[0]).
				Int("regions", len(pt.WritePerMillion)).
				Msg("Price table written")
			_, err = fmt.Fprintln(a.out, args[0])
			return err
		},
	}
}
