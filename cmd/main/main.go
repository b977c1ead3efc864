package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	// .env is optional; the process environment always wins
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "hybrid-router",
		Short:         "Cost- and quality-aware LLM request router",
		Long:          "hybrid-router picks a provider and model per prompt from complexity, historical quality and cost, and caches responses with feedback-driven invalidation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./configs/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRetrainCmd())
	rootCmd.AddCommand(newRouteCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
