package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/notify"
	"github.com/dgnsrekt/gexbot-engine/internal/refresh"
)

// symbolRefresher limits a refresh cycle to an explicit symbol list.
type symbolRefresher struct {
	*data.Service
	symbols []string
}

func (r symbolRefresher) Symbols() []string {
	return r.symbols
}

func refreshCmd() *cobra.Command {
	var (
		symbols []string
		noDelay bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one refresh cycle and store the fetched snapshots",
		Long: `Fetch the option chain of every configured symbol once, append the
snapshots to the store and exit. Failed symbols are reported and do not stop
the cycle. When ntfy is configured, a failure notification is sent.

Examples:
  # Refresh the configured symbols
  gexbot refresh

  # Refresh two symbols without pausing between them
  gexbot refresh --symbols SPY,QQQ --no-delay`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			effective, err := symbolsOrDefault(symbols)
			if err != nil {
				return err
			}

			if dryRun {
				for _, s := range effective {
					fmt.Printf("Would refresh: %s\n", s)
				}
				return nil
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			client := newClient()
			service := data.NewService(store, client, logger)

			delay := cfg.Refresh.SymbolDelay()
			if noDelay {
				delay = -1
			}
			scheduler := refresh.NewScheduler(symbolRefresher{Service: service, symbols: effective}, client, refresh.RealClock{}, refresh.Options{
				SymbolDelay: delay,
				Location:    cfg.Refresh.Location(),
			}, logger)

			result := scheduler.RunCycle(ctx)
			notify.CycleHook(notify.New(&cfg.Notify, logger), logger)(ctx, result)

			logger.Info("refresh complete",
				zap.Int("total", result.Total()),
				zap.Int("success", len(result.Refreshed)),
				zap.Int("failed", len(result.Errors)),
				zap.Duration("duration", result.Duration()),
			)

			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					logger.Error("refresh error", zap.String("symbol", e.Symbol), zap.Error(e.Err))
				}
				return fmt.Errorf("%d of %d symbols failed", len(result.Errors), result.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override symbols from config")
	cmd.Flags().BoolVar(&noDelay, "no-delay", false, "do not pause between symbols")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show which symbols would be refreshed")

	return cmd
}
