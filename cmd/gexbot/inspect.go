package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
)

func inspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [SYMBOL]",
		Short: "Show what the snapshot store holds",
		Long: `List every symbol in the store with its snapshot count and latest fetch,
or the full snapshot history of one symbol.

Examples:
  gexbot inspect
  gexbot inspect SPY`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

			if len(args) == 1 {
				symbol := data.NormalizeSymbol(args[0])
				history := store.History(symbol)
				if len(history) == 0 {
					return fmt.Errorf("%w: %s", data.ErrNotFound, symbol)
				}
				if asJSON {
					return printJSON(history)
				}

				fmt.Fprintln(w, "FETCHED AT\tCONTRACTS\tOPEN INTEREST")
				for _, snap := range history {
					var oi uint64
					for _, c := range snap.Contracts {
						oi += c.OpenInterest
					}
					fmt.Fprintf(w, "%s\t%d\t%d\n", snap.FetchedAt.Format(time.RFC3339), len(snap.Contracts), oi)
				}
				return w.Flush()
			}

			fmt.Fprintln(w, "SYMBOL\tSNAPSHOTS\tLATEST")
			for _, symbol := range store.Symbols() {
				history := store.History(symbol)
				latest := "-"
				if snap, ok := store.Current(symbol); ok {
					latest = snap.FetchedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", symbol, len(history), latest)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the symbol history as JSON")

	return cmd
}
