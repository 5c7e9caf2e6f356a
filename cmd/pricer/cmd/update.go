package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the price of one product or of every product",
	Long: `Update applies the product's pricing strategy once. RL products ask their
trained model for a change; STATIC products move by the configured increment.
Changes at or below the minimum change are skipped.

Examples:
  pricer update --product 3
  pricer update --product 3 --train --timesteps 5000
  pricer update --all`,
	RunE: runUpdate,
}

var (
	updateProductID int64
	updateAll       bool
	updateTrain     bool
	updateTimesteps int
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().Int64VarP(&updateProductID, "product", "p", 0, "product id")
	updateCmd.Flags().BoolVarP(&updateAll, "all", "a", false, "update every product through the worker pool")
	updateCmd.Flags().BoolVar(&updateTrain, "train", false, "retrain the product's model before updating")
	updateCmd.Flags().IntVar(&updateTimesteps, "timesteps", 0, "training timesteps (default from config)")
	updateCmd.MarkFlagsMutuallyExclusive("product", "all")
	updateCmd.MarkFlagsOneRequired("product", "all")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	if updateAll {
		ack, m, err := a.RunBatchUpdate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Batch %s: %d jobs, %d processed, %d failed\n", ack.BatchID, ack.Jobs, m.Processed, m.Failed)
		return nil
	}

	res := a.Service.TriggerSingleUpdate(ctx, updateProductID, updateTrain, updateTimesteps)
	if !res.Success {
		return fmt.Errorf("%s", res.Message)
	}
	fmt.Println(res.Message)
	if res.PriceChangePercent != 0 {
		fmt.Printf("  Change: %+.2f%%\n", res.PriceChangePercent)
	}
	return nil
}
