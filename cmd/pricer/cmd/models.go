package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pricer/policy"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect pricing models and their training sessions",
}

var modelsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List training sessions for a product, newest first",
	Long: `Sessions shows every training run recorded for a product: when it ran,
how it ended and the model version it published.

Examples:
  pricer models sessions --product 3
  pricer models sessions --product 3 --algorithm PPO --log`,
	Args: cobra.NoArgs,
	RunE: runModelsSessions,
}

var (
	modelsProductID int64
	modelsAlgorithm string
	modelsShowLog   bool
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsSessionsCmd)

	modelsSessionsCmd.Flags().Int64VarP(&modelsProductID, "product", "p", 0, "product id (required)")
	modelsSessionsCmd.Flags().StringVar(&modelsAlgorithm, "algorithm", "", "DQN or PPO (default: all)")
	modelsSessionsCmd.Flags().BoolVar(&modelsShowLog, "log", false, "print each session's training log")
	modelsSessionsCmd.MarkFlagRequired("product")
}

func runModelsSessions(cmd *cobra.Command, args []string) error {
	var alg policy.Algorithm
	if modelsAlgorithm != "" {
		a, err := policy.ParseAlgorithm(modelsAlgorithm)
		if err != nil {
			return err
		}
		alg = a
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := a.Trainer.Sessions(cmd.Context(), modelsProductID, alg)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Printf("No training sessions for product %d\n", modelsProductID)
		return nil
	}

	for _, s := range sessions {
		done := "-"
		if !s.CompletedAt.IsZero() {
			done = s.CompletedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%s  %-3s  %-9s  v%-3d  %6d steps  %s -> %s\n",
			s.ID, s.Algorithm, s.Status, s.Version, s.Timesteps,
			s.StartedAt.Local().Format(time.DateTime), done)
		if modelsShowLog && s.Log != "" {
			fmt.Println(s.Log)
		}
	}
	return nil
}
