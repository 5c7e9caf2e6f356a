package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Retrain RL pricing models",
	Long: `Retrain trains a fresh model for every RL product (or just one) in the
simulated market and publishes it as the next model version. A failure on one
product is logged and does not stop the others. With --background every
product is trained as a job on the worker pool.

Examples:
  pricer retrain --timesteps 1000
  pricer retrain --background
  pricer retrain --product 3`,
	RunE: runRetrain,
}

var (
	retrainTimesteps  int
	retrainProductID  int64
	retrainBackground bool
)

func init() {
	rootCmd.AddCommand(retrainCmd)

	retrainCmd.Flags().IntVarP(&retrainTimesteps, "timesteps", "t", 0, "training timesteps per product (default from config)")
	retrainCmd.Flags().Int64VarP(&retrainProductID, "product", "p", 0, "only retrain this product")
	retrainCmd.Flags().BoolVarP(&retrainBackground, "background", "b", false, "run each product as a worker pool job")
	retrainCmd.MarkFlagsMutuallyExclusive("product", "background")
}

func runRetrain(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	if retrainTimesteps <= 0 {
		retrainTimesteps = a.Config.Training.RetrainTimesteps
	}

	if retrainBackground {
		ack, m, err := a.RunBackgroundRetrain(ctx, retrainTimesteps)
		if err != nil {
			return err
		}
		fmt.Printf("Retrain batch %s: %d jobs, %d processed, %d failed\n", ack.BatchID, ack.Jobs, m.Processed, m.Failed)
		return nil
	}

	if retrainProductID != 0 {
		alg, err := a.Config.Models.ParseAlgorithm()
		if err != nil {
			return err
		}
		m, err := a.Trainer.Train(ctx, retrainProductID, alg, retrainTimesteps)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Trained %s model for product %d (version %d)\n", m.Algorithm, m.ProductID, m.Version)
		return nil
	}

	res := a.Service.TriggerRetrainAll(ctx, retrainTimesteps)
	if !res.Success {
		fmt.Println(res.Message)
		return nil
	}
	fmt.Println(res.Message)
	fmt.Printf("  Trained: %d  Failed: %d\n", res.Trained, res.Failed)
	return nil
}
