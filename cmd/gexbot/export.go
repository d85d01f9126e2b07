package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/export"
	"github.com/dgnsrekt/gexbot-engine/internal/staging"
)

func exportCmd() *cobra.Command {
	var (
		dryRun  bool
		symbols []string
		kinds   []string
		allDays bool
	)

	cmd := &cobra.Command{
		Use:   "export YYYY-MM-DD [END_DATE]",
		Short: "Export stored snapshots for specified date(s)",
		Long: `Write the stored snapshots of each symbol and day to zstd-compressed
JSON Lines files under the export directory:

  <dir>/<date>/<SYMBOL>/chain.jsonl.zst     one snapshot per line
  <dir>/<date>/<SYMBOL>/exposure.jsonl.zst  one strike summary per line

Existing files are kept, so an interrupted export can be resumed.
Date format: YYYY-MM-DD (e.g., 2025-11-14)

Examples:
  # Export single date
  gexbot export 2025-11-14

  # Export date range, summaries only
  gexbot export --kinds exposure 2025-11-01 2025-11-14

  # Dry run to see what would be exported
  gexbot export --dry-run 2025-11-14`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dates, err := parseDates(args)
			if err != nil {
				return err
			}
			location := cfg.Refresh.Location()
			if !allDays {
				dates = filterMarketDays(dates, location, logger)
			}

			effective, err := symbolsOrDefault(symbols)
			if err != nil {
				return err
			}

			var exportKinds []export.Kind
			for _, k := range kinds {
				kind, err := export.ParseKind(k)
				if err != nil {
					return err
				}
				exportKinds = append(exportKinds, kind)
			}
			if len(exportKinds) == 0 {
				exportKinds = export.Kinds
			}

			tasks := export.GenerateTasks(dates, effective, exportKinds)
			logger.Info("generated tasks", zap.Int("count", len(tasks)))

			if dryRun {
				for _, t := range tasks {
					fmt.Printf("Would export: %s\n", t)
				}
				return nil
			}

			store, err := openStore()
			if err != nil {
				return err
			}

			area := staging.New(cfg.Export.Directory)
			leftover, err := area.Pending()
			if err != nil {
				return fmt.Errorf("reading staging area: %w", err)
			}
			for _, date := range leftover {
				logger.Warn("discarding staged files from interrupted export", zap.String("date", date))
				if err := area.Discard(date); err != nil {
					return fmt.Errorf("discarding staged %s: %w", date, err)
				}
			}

			mgr := export.NewManager(store, newAggregator(), area, cfg.Export.Workers, location, logger)

			result, err := mgr.Execute(ctx, tasks)
			if err != nil {
				return err
			}

			// Promote only after every task ran so a date appears all at once
			if result.Success > 0 {
				for _, date := range dates {
					moved, err := area.Promote(date)
					if err != nil {
						logger.Warn("failed to promote staged files", zap.String("date", date), zap.Error(err))
						continue
					}
					if moved > 0 {
						logger.Debug("promoted", zap.String("date", date), zap.Int("files", moved))
					}
					if err := area.Discard(date); err != nil {
						logger.Warn("failed to clean staging", zap.String("date", date), zap.Error(err))
					}
				}
			}

			logger.Info("export complete",
				zap.Int("total", result.Total),
				zap.Int("success", result.Success),
				zap.Int("skipped", result.Skipped),
				zap.Int("not_found", result.NotFound),
				zap.Int("failed", result.Failed),
				zap.Int("records", result.Records),
			)

			if result.Failed > 0 {
				for _, e := range result.Errors {
					logger.Error("export error", zap.String("error", e))
				}
				return fmt.Errorf("%d exports failed", result.Failed)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be exported")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override symbols from config")
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "export kinds (chain,exposure); default both")
	cmd.Flags().BoolVar(&allDays, "all-days", false, "include weekends and exchange holidays")

	return cmd
}
