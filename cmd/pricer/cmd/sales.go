package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var salesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Record product sales",
	Long: `Record units sold at a product's current price. Sales feed the
days-since-last-sale and sales-rate inputs of the pricing models.

Subcommands:
  record - Record one sale
  import - Record every sale in a CSV file

Examples:
  pricer sales record --product 3 --units 2
  pricer sales import sales.csv`,
}

var salesRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one sale",
	Args:  cobra.NoArgs,
	RunE:  runSalesRecord,
}

var salesImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Record sales from a CSV file",
	Long: `Import reads a CSV file with the header product_id,units_sold,timestamp.
Timestamps are RFC 3339; an empty timestamp means now. Rows are recorded in
file order and must not go back in time for a product.`,
	Args: cobra.ExactArgs(1),
	RunE: runSalesImport,
}

var (
	salesProductID int64
	salesUnits     int64
	salesAt        string
)

func init() {
	rootCmd.AddCommand(salesCmd)
	salesCmd.AddCommand(salesRecordCmd)
	salesCmd.AddCommand(salesImportCmd)

	salesRecordCmd.Flags().Int64VarP(&salesProductID, "product", "p", 0, "product id (required)")
	salesRecordCmd.Flags().Int64VarP(&salesUnits, "units", "u", 1, "units sold")
	salesRecordCmd.Flags().StringVar(&salesAt, "at", "", "sale time, RFC 3339 (default: now)")
	salesRecordCmd.MarkFlagRequired("product")
}

func runSalesRecord(cmd *cobra.Command, args []string) error {
	at := time.Now()
	if salesAt != "" {
		t, err := time.Parse(time.RFC3339, salesAt)
		if err != nil {
			return fmt.Errorf("at: %w", err)
		}
		at = t
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := a.Store.RecordSale(cmd.Context(), salesProductID, salesUnits, at)
	if err != nil {
		return fmt.Errorf("record sale: %w", err)
	}
	fmt.Printf("✓ Recorded %d units of product %d at $%.2f ($%.2f)\n", rec.UnitsSold, rec.ProductID, rec.Price, rec.Revenue)
	return nil
}

func runSalesImport(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := a.ImportSales(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("import after %d sales: %w", n, err)
	}
	fmt.Printf("✓ Recorded %d sales from %s\n", n, args[0])
	return nil
}
