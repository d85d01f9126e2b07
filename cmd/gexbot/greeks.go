package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
)

func greeksCmd() *cobra.Command {
	var (
		sigma  float64
		days   float64
		spot   float64
		strike float64
	)

	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Price a European option and print its sensitivities",
		Long: `Evaluate the Black-Scholes price, delta, gamma, theta, vega, vanna and charm
of a call and a put at zero interest rate.

Examples:
  gexbot greeks --sigma 0.2 --days 30 --spot 100 --strike 105`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for name, v := range map[string]float64{"sigma": sigma, "days": days, "spot": spot, "strike": strike} {
				if !(v > 0) || !greeks.Finite(v) {
					return fmt.Errorf("--%s must be a positive number", name)
				}
			}

			in := greeks.Inputs{
				Sigma:          sigma,
				ExpirationTime: days / greeks.DaysPerYear,
				Spot:           spot,
				Strike:         strike,
			}
			call, put := greeks.Compute(true, in), greeks.Compute(false, in)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tCALL\tPUT")
			for _, row := range []struct {
				name      string
				call, put float64
			}{
				{"price", call.Price, put.Price},
				{"delta", call.Delta, put.Delta},
				{"gamma", call.Gamma, put.Gamma},
				{"theta", call.Theta, put.Theta},
				{"vega", call.Vega, put.Vega},
				{"vanna", call.Vanna, put.Vanna},
				{"charm", call.Charm, put.Charm},
			} {
				fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", row.name, row.call, row.put)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64Var(&sigma, "sigma", 0, "annualized volatility (e.g. 0.2)")
	cmd.Flags().Float64Var(&days, "days", 0, "calendar days to expiration")
	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&strike, "strike", 0, "strike price")
	for _, name := range []string{"sigma", "days", "spot", "strike"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
