package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pricer/catalog"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Import and list catalog products",
	Long: `Manage the product catalog.

Subcommands:
  import - Create products from a YAML or JSON file
  list   - List products, optionally filtered by strategy

Examples:
  pricer products import catalog.yaml
  pricer products list --strategy RL`,
}

var productsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create products from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductsImport,
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	Args:  cobra.NoArgs,
	RunE:  runProductsList,
}

var productsStrategy string

func init() {
	rootCmd.AddCommand(productsCmd)
	productsCmd.AddCommand(productsImportCmd)
	productsCmd.AddCommand(productsListCmd)

	productsListCmd.Flags().StringVarP(&productsStrategy, "strategy", "s", "", "only list RL or STATIC products")
}

func runProductsImport(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	products, err := a.ImportProducts(cmd.Context(), args[0])
	for _, p := range products {
		fmt.Printf("✓ %d %s (%s $%.2f)\n", p.ID, p.Name, p.Strategy, p.CurrentPrice)
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Printf("Imported %d products from %s\n", len(products), args[0])
	return nil
}

func runProductsList(cmd *cobra.Command, args []string) error {
	var strategy catalog.Strategy
	if productsStrategy != "" {
		s, err := catalog.ParseStrategy(productsStrategy)
		if err != nil {
			return err
		}
		strategy = s
	}

	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	products, err := a.Store.Products(cmd.Context(), strategy)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	fmt.Printf("%-6s %-24s %-8s %10s %10s %10s %8s\n", "ID", "NAME", "STRATEGY", "PRICE", "MIN", "MAX", "STOCK")
	for _, p := range products {
		fmt.Printf("%-6d %-24s %-8s %10.2f %10.2f %10.2f %8d\n",
			p.ID, p.Name, p.Strategy, p.CurrentPrice, p.MinPrice, p.MaxPrice, p.StockQuantity)
	}
	return nil
}
