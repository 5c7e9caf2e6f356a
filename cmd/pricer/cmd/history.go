package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pricer/catalog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect product price history",
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a product's price history to CSV or XLSX",
	Long: `Export writes every price record of a product committed at or after
--since. The format follows the output extension: .xlsx writes a workbook,
anything else writes CSV.

Examples:
  pricer history export --product 3 --output history.csv
  pricer history export --product 3 --since 2024-01-15 --output history.xlsx`,
	Args: cobra.NoArgs,
	RunE: runHistoryExport,
}

var (
	historyProductID int64
	historySince     string
	historyOutput    string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyExportCmd)

	historyExportCmd.Flags().Int64VarP(&historyProductID, "product", "p", 0, "product id (required)")
	historyExportCmd.Flags().StringVar(&historySince, "since", "", "first day to include, YYYY-MM-DD (default: everything)")
	historyExportCmd.Flags().StringVarP(&historyOutput, "output", "o", "history.csv", "output file (.csv or .xlsx)")
	historyExportCmd.MarkFlagRequired("product")
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	var since time.Time
	if historySince != "" {
		t, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		since = t
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	recs, err := a.Store.HistorySince(cmd.Context(), historyProductID, since)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	switch strings.ToLower(filepath.Ext(historyOutput)) {
	case ".xlsx":
		err = catalog.ExportHistoryXLSX(historyOutput, recs)
	default:
		err = catalog.ExportHistoryCSV(historyOutput, recs)
	}
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Printf("✓ Wrote %d records to %s\n", len(recs), historyOutput)
	return nil
}
