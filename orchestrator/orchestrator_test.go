package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/env"
	"github.com/rustyeddy/pricer/internal/keylock"
	"github.com/rustyeddy/pricer/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakePredictor struct {
	mu     sync.Mutex
	change float64
	err    error
	calls  int
	alg    policy.Algorithm
}

func (f *fakePredictor) PredictPriceChange(_ context.Context, _ int64, alg policy.Algorithm, state *env.State) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.alg = alg
	return f.change, f.err
}

// failingStore rejects every commit.
type failingStore struct{ *catalog.Memory }

func (failingStore) CommitPrice(context.Context, int64, catalog.PriceRecord) error {
	return errors.New("disk full")
}

func newStore(t *testing.T, p catalog.Product) (*catalog.Memory, int64) {
	t.Helper()
	s := catalog.NewMemory(catalog.WithClock(clock))
	require.NoError(t, s.CreateProduct(context.Background(), &p))
	return s, p.ID
}

func product(current, min, max float64, strategy catalog.Strategy) catalog.Product {
	return catalog.Product{
		Name:          "widget",
		CurrentPrice:  current,
		BasePrice:     current,
		CostPrice:     min * 0.5,
		MinPrice:      min,
		MaxPrice:      max,
		StockQuantity: 10,
		Strategy:      strategy,
	}
}

func history(t *testing.T, s catalog.Store, id int64) []catalog.PriceRecord {
	t.Helper()
	h, err := s.HistorySince(context.Background(), id, time.Time{})
	require.NoError(t, err)
	return h
}

func TestStaticIncrement(t *testing.T) {
	ctx := context.Background()
	p := product(100, 50, 200, catalog.StrategyStatic)
	p.CostPrice = 60
	store, id := newStore(t, p)
	pred := &fakePredictor{}
	o := New(store, pred, DefaultConfig(), WithClock(clock))

	d, err := o.UpdatePrice(ctx, id)
	require.NoError(t, err)
	assert.True(t, d.Committed)
	assert.InDelta(t, 102.0, d.NewPrice, 1e-9)
	assert.Equal(t, 0, pred.calls, "static products never consult the model")

	got, err := store.Product(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 102.0, got.CurrentPrice, 1e-9)
	assert.True(t, got.LastPriceUpdate.Equal(now))

	h := history(t, store, id)
	require.Len(t, h, 1)
	assert.InDelta(t, 2.0, h[0].ChangePercentage, 1e-9)
	assert.InDelta(t, 102.0, h[0].Price, 1e-9)
}

func TestRLChangeIsClamped(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t, product(100, 95, 105, catalog.StrategyRL))
	pred := &fakePredictor{change: 0.10}
	cfg := DefaultConfig()
	cfg.Algorithm = policy.PPO
	o := New(store, pred, cfg, WithClock(clock))

	d, err := o.UpdatePrice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, policy.PPO, pred.alg)
	assert.Equal(t, 0.10, d.Change)
	assert.Equal(t, 105.0, d.NewPrice)
	assert.InDelta(t, 5.0, d.ChangePercentage, 1e-9)

	h := history(t, store, id)
	require.Len(t, h, 1)
	assert.Equal(t, 105.0, h[0].Price)
	assert.InDelta(t, 5.0, h[0].ChangePercentage, 1e-9)
}

func TestInsignificantChangeIsSkipped(t *testing.T) {
	tests := []struct {
		name   string
		p      catalog.Product
		change float64
	}{
		{"hold", product(100, 50, 200, catalog.StrategyRL), 0},
		{"pinned at max", product(200, 50, 200, catalog.StrategyRL), 0.10},
		{"pinned at min", product(50, 50, 200, catalog.StrategyRL), -0.05},
		{"sub-cent move", product(0.10, 0.01, 1, catalog.StrategyRL), 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, id := newStore(t, tt.p)
			o := New(store, &fakePredictor{change: tt.change}, DefaultConfig(), WithClock(clock))

			d, err := o.UpdatePrice(ctx, id)
			require.NoError(t, err)
			assert.False(t, d.Committed)
			assert.Empty(t, history(t, store, id))

			got, err := store.Product(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tt.p.CurrentPrice, got.CurrentPrice)
		})
	}
}

func TestUpdatePriceErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown product", func(t *testing.T) {
		store, _ := newStore(t, product(100, 50, 200, catalog.StrategyRL))
		_, err := New(store, &fakePredictor{}, DefaultConfig()).UpdatePrice(ctx, 404)
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("predictor failure", func(t *testing.T) {
		store, id := newStore(t, product(100, 50, 200, catalog.StrategyRL))
		boom := errors.New("model missing")
		_, err := New(store, &fakePredictor{err: boom}, DefaultConfig()).UpdatePrice(ctx, id)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, history(t, store, id))
	})

	t.Run("commit failure", func(t *testing.T) {
		mem, id := newStore(t, product(100, 50, 200, catalog.StrategyStatic))
		d, err := New(failingStore{mem}, &fakePredictor{}, DefaultConfig(), WithClock(clock)).UpdatePrice(ctx, id)
		assert.EqualError(t, err, "commit price: disk full")
		assert.False(t, d.Committed)
		got, err := mem.Product(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got.CurrentPrice)
	})
}

func TestUpdatesSerializePerProduct(t *testing.T) {
	ctx := context.Background()
	store, id := newStore(t, product(100, 50, 1000, catalog.StrategyStatic))
	locks := keylock.New()
	o := New(store, &fakePredictor{}, DefaultConfig(), WithClock(clock), WithLocker(locks))

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.UpdatePrice(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h := history(t, store, id)
	require.Len(t, h, n)
	price := 100.0
	for _, rec := range h {
		price *= 1.02
		assert.InDelta(t, price, rec.Price, 1e-6)
	}
	assert.Zero(t, locks.Len())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 105.0, Clamp(110, 95, 105))
	assert.Equal(t, 95.0, Clamp(90, 95, 105))
	assert.InDelta(t, 110.0, Propose(100, 0.10), 1e-9)
	assert.True(t, Significant(100, 100.02, 0.01))
	assert.False(t, Significant(100, 100.005, 0.01))
	assert.False(t, Significant(100, 100, 0.01))
	assert.InDelta(t, -5.0, ChangePercent(100, 95, -0.10), 1e-9)
}
