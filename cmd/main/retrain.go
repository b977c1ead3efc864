package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newRetrainCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Recompute pattern confidence from feedback once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.trainer.Retrain(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing history")
	return cmd
}
