package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"www.github.com/Wanderer0074348/HybridRouter/src/models"
)

func newRouteCmd() *cobra.Command {
	var (
		autoRoute bool
		providers []string
		maxCost   float64
	)

	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Print the routing decision for a prompt without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			decision, err := a.engine.Route(cmd.Context(), strings.Join(args, " "), autoRoute, &models.RoutingContext{
				RequestID:          uuid.NewString(),
				AvailableProviders: providers,
				MaxCostUSD:         maxCost,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		},
	}
	cmd.Flags().BoolVar(&autoRoute, "auto", false, "use the hybrid learning strategy")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "restrict routing to these providers")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "estimated cost ceiling in USD")
	return cmd
}
