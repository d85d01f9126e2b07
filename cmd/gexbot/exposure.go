package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/exposure"
)

func exposureCmd() *cobra.Command {
	var (
		mode      string
		minStrike float64
		maxStrike float64
		fresh     bool
	)

	cmd := &cobra.Command{
		Use:   "exposure SYMBOL",
		Short: "Print the gamma exposure summary for a symbol",
		Long: `Compute gamma exposure for a symbol's latest snapshot and print the summary as JSON.

The snapshot is read from the store and fetched upstream when the symbol
has never been fetched (or always, with --fresh).

Examples:
  # Net vendor gamma per traded strike
  gexbot exposure SPY

  # Recomputed gamma on a half-point grid between two prices
  gexbot exposure --mode grid --min-strike 580 --max-strike 620 SPY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := exposure.ParseMode(mode)
			if err != nil {
				return err
			}
			var opts exposure.Options
			if cmd.Flags().Changed("min-strike") {
				opts.MinStrike = &minStrike
			}
			if cmd.Flags().Changed("max-strike") {
				opts.MaxStrike = &maxStrike
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			service := data.NewService(store, newClient(), logger)

			var snap data.Snapshot
			if fresh {
				snap, err = service.Refresh(ctx, args[0])
			} else {
				snap, err = service.CurrentSnapshot(ctx, args[0])
			}
			if err != nil {
				return err
			}

			stats, skipped, err := newAggregator().Compute(ctx, snap.Symbol, snap.Contracts, m, opts, time.Now())
			if err != nil {
				return err
			}
			for _, e := range skipped {
				logger.Warn("contract skipped", zap.Error(e))
			}

			logger.Debug("exposure computed",
				zap.String("symbol", snap.Symbol),
				zap.Time("fetchedAt", snap.FetchedAt),
				zap.Int("prices", len(stats.Prices)),
			)
			if err := printJSON(stats); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(exposure.ModeStrike), "aggregation mode (strike or grid)")
	cmd.Flags().Float64Var(&minStrike, "min-strike", 0, "lowest strike or grid price to include")
	cmd.Flags().Float64Var(&maxStrike, "max-strike", 0, "highest strike or grid price to include")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "fetch a new snapshot before computing")

	return cmd
}
