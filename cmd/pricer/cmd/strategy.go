package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Manage pricing strategy assignment",
}

var strategyAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Randomly assign RL or STATIC to every product",
	Long: `Assign gives every product a pricing strategy by a fair coin flip, for
A/B comparison of RL against static pricing. The same seed gives the same
assignment.

Example:
  pricer strategy assign --seed 42`,
	Args: cobra.NoArgs,
	RunE: runStrategyAssign,
}

var strategySeed uint64

func init() {
	rootCmd.AddCommand(strategyCmd)
	strategyCmd.AddCommand(strategyAssignCmd)

	strategyAssignCmd.Flags().Uint64Var(&strategySeed, "seed", 1, "random seed")
}

func runStrategyAssign(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := a.Service.AssignStrategies(cmd.Context(), strategySeed)
	if err != nil {
		return fmt.Errorf("assign strategies: %w", err)
	}
	fmt.Printf("✓ Assigned strategies to %d products (seed %d)\n", n, strategySeed)
	return nil
}
