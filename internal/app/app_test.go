package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/config"
	"github.com/rustyeddy/pricer/env"
)

const productsYAML = `products:
  - name: kettle
    current_price: 40
    base_price: 40
    cost_price: 25
    min_price: 30
    max_price: 60
    stock_quantity: 120
    pricing_strategy: STATIC
  - name: toaster
    current_price: 80
    base_price: 80
    cost_price: 50
    min_price: 60
    max_price: 120
    stock_quantity: 40
    pricing_strategy: RL
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.DBPath = filepath.Join(dir, "pricer.db")
	cfg.Models.Dir = filepath.Join(dir, "models")
	cfg.Training.Timesteps = 100
	cfg.Training.RetrainTimesteps = 100
	cfg.Training.MaxSteps = 20
	require.NoError(t, cfg.Validate())
	return cfg
}

func openApp(t *testing.T) *App {
	t.Helper()
	a, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func writeProducts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(productsYAML), 0o644))
	return path
}

func TestLoadProducts(t *testing.T) {
	products, err := LoadProducts(writeProducts(t))
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "kettle", products[0].Name)
	assert.Equal(t, catalog.StrategyStatic, products[0].Strategy)
	assert.Equal(t, int64(40), products[1].StockQuantity)

	_, err = LoadProducts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestImportProducts(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)

	products, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.NotZero(t, products[0].ID)

	stored, err := a.Store.Products(ctx, catalog.StrategyRL)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "toaster", stored[0].Name)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("products:\n  - name: x\n    current_price: 10\n    min_price: 20\n    max_price: 30\n"), 0o644))
	_, err = a.ImportProducts(ctx, bad)
	assert.True(t, catalog.IsValidation(err))
}

func TestRunBatchUpdate(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)
	_, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)

	ack, m, err := a.RunBatchUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Jobs)
	assert.Equal(t, uint64(2), m.Processed)
	assert.Zero(t, m.Failed)

	kettle, err := a.Store.Product(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 40.8, kettle.CurrentPrice, 1e-9)

	// The RL product got a model on first use.
	assert.FileExists(t, filepath.Join(a.Config.Models.Dir, "product_2_DQN.json"))
}

func TestRetrainThroughService(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)
	_, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)

	res := a.Service.TriggerRetrainAll(ctx, 0)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Trained)

	sessions, err := a.Journal.Sessions(ctx, 2, "DQN")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 100, sessions[0].Timesteps)
}

func TestImportSalesFeedsLiveState(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)
	_, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)

	twoDaysAgo := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	path := filepath.Join(t.TempDir(), "sales.csv")
	body := "product_id,units_sold,timestamp\n" +
		"2," + "3," + twoDaysAgo + "\n" +
		"2,4,\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	n, err := a.ImportSales(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	toaster, err := a.Store.Product(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(33), toaster.StockQuantity)

	s, err := env.New(a.Store, 2).Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s[env.IdxDaysSinceSale])
	assert.InDelta(t, 1.0, s[env.IdxSalesRate], 1e-12)
}

func TestImportSalesRejectsBadRows(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)
	_, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"wrong header", "id,units,when\n1,1,\n"},
		{"bad units", "product_id,units_sold,timestamp\n1,many,\n"},
		{"unknown product", "product_id,units_sold,timestamp\n9,1,\n"},
		{"more than in stock", "product_id,units_sold,timestamp\n2,41,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sales.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			n, err := a.ImportSales(ctx, path)
			assert.Error(t, err)
			assert.Zero(t, n)
		})
	}

	kettle, err := a.Store.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(120), kettle.StockQuantity)
}

func TestRunBackgroundRetrain(t *testing.T) {
	ctx := context.Background()
	a := openApp(t)
	_, err := a.ImportProducts(ctx, writeProducts(t))
	require.NoError(t, err)

	ack, m, err := a.RunBackgroundRetrain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Jobs, "only the RL product is retrained")
	assert.Equal(t, uint64(1), m.Processed)
	assert.Zero(t, m.Failed)

	sessions, err := a.Journal.Sessions(ctx, 2, "DQN")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 100, sessions[0].Timesteps)
	assert.True(t, sessions[0].Successful)
	assert.FileExists(t, filepath.Join(a.Config.Models.Dir, "product_2_DQN.json"))
}
