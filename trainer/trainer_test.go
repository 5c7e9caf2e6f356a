package trainer

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/env"
	"github.com/rustyeddy/pricer/journal"
	"github.com/rustyeddy/pricer/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	store   *catalog.Memory
	journal *journal.SQLite
	cfg     Config
	product catalog.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := catalog.NewMemory(catalog.WithClock(clock))
	j, err := journal.NewSQLite(t.TempDir()+"/journal.db", journal.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	p := catalog.Product{
		Name:          "widget",
		CurrentPrice:  100,
		BasePrice:     100,
		CostPrice:     60,
		MinPrice:      50,
		MaxPrice:      200,
		StockQuantity: 500,
		Strategy:      catalog.StrategyRL,
	}
	require.NoError(t, store.CreateProduct(context.Background(), &p))

	return &fixture{
		store:   store,
		journal: j,
		product: p,
		cfg: Config{
			ModelDir: t.TempDir(),
			Seed:     11,
			MaxSteps: 50,
			Sandbox:  env.DefaultSandboxConfig(),
		},
	}
}

func (f *fixture) trainer(opts ...Option) *Trainer {
	return New(f.store, f.journal, f.cfg, append([]Option{WithClock(clock)}, opts...)...)
}

// brokenPolicy fails to learn.
type brokenPolicy struct{ policy.Policy }

func (brokenPolicy) Learn(context.Context, policy.Env, int, policy.ProgressFunc) error {
	return errors.New("diverged")
}

func brokenFactory(alg policy.Algorithm, seed uint64) (policy.Policy, error) {
	p, err := policy.New(alg, seed)
	if err != nil {
		return nil, err
	}
	return brokenPolicy{p}, nil
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, "models/product_12_PPO.json", ModelPath("models", 12, policy.PPO))
}

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.trainer()

	m, err := tr.LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	assert.FileExists(t, m.Path)
	assert.Equal(t, ModelPath(f.cfg.ModelDir, f.product.ID, policy.DQN), m.Path)

	again, err := tr.LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	assert.Same(t, m, again)

	// A fresh trainer reads the same artifact and record.
	other, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Version)

	rec, err := f.journal.Model(ctx, f.product.ID, "DQN")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
}

func TestLoadOrCreateErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("unknown product", func(t *testing.T) {
		_, err := f.trainer().LoadOrCreate(ctx, 999, policy.DQN)
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("corrupt artifact", func(t *testing.T) {
		path := ModelPath(f.cfg.ModelDir, f.product.ID, policy.PPO)
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		_, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.PPO)
		var mle *policy.ModelLoadError
		assert.ErrorAs(t, err, &mle)
	})
}

func TestTrainPublishesNewVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.trainer()

	_, err := tr.LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)

	m, err := tr.Train(ctx, f.product.ID, policy.DQN, 2*policy.ProgressEvery)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Version)
	assert.Equal(t, 2*policy.ProgressEvery, m.Policy.Timesteps())

	sessions, err := tr.Sessions(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, journal.StatusSucceeded, s.Status)
	assert.True(t, s.Successful)
	assert.Equal(t, 2, s.Version)
	assert.Contains(t, s.Log, "timesteps=1000")
	assert.Contains(t, s.Log, "timesteps=2000")

	t.Run("sandbox leaves the catalog untouched", func(t *testing.T) {
		live, err := f.store.Product(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, f.product.CurrentPrice, live.CurrentPrice)
		history, err := f.store.HistorySince(ctx, f.product.ID, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("reload predicts the same", func(t *testing.T) {
		loaded, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.DQN)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Version)
		for _, s := range []env.State{
			{100, 100, 500, 0, 5},
			{50, 100, 3, 30, 0},
			{200, 100, 0, 30, 0},
		} {
			assert.Equal(t, m.Policy.Predict(s), loaded.Policy.Predict(s))
		}
	})
}

func TestTrainIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.trainer().Train(ctx, f.product.ID, policy.PPO, 500)
	require.NoError(t, err)
	first, err := os.ReadFile(a.Path)
	require.NoError(t, err)

	b, err := f.trainer().Train(ctx, f.product.ID, policy.PPO, 500)
	require.NoError(t, err)
	assert.Equal(t, a.Version+1, b.Version)

	s := env.State{120, 100, 40, 3, 1}
	assert.Equal(t, a.Policy.Predict(s), b.Policy.Predict(s))
	assert.NotEmpty(t, first)
}

func TestTrainFailureKeepsVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	before, err := os.ReadFile(ModelPath(f.cfg.ModelDir, f.product.ID, policy.DQN))
	require.NoError(t, err)

	_, err = f.trainer(WithPolicyFactory(brokenFactory)).Train(ctx, f.product.ID, policy.DQN, 100)
	var tf *TrainingFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, f.product.ID, tf.ProductID)
	assert.EqualError(t, errors.Unwrap(err), "diverged")

	rec, err := f.journal.Model(ctx, f.product.ID, "DQN")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	after, err := os.ReadFile(ModelPath(f.cfg.ModelDir, f.product.ID, policy.DQN))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	s, err := f.journal.Session(ctx, tf.SessionID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, s.Status)
	assert.False(t, s.Successful)
}

// bumpFailJournal refuses to publish new model versions.
type bumpFailJournal struct{ journal.Journal }

func (bumpFailJournal) BumpVersion(context.Context, int64, string) (journal.ModelRecord, error) {
	return journal.ModelRecord{}, errors.New("journal unavailable")
}

func TestTrainKeepsArtifactWhenVersionBumpFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := ModelPath(f.cfg.ModelDir, f.product.ID, policy.DQN)

	_, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	tr := New(f.store, bumpFailJournal{f.journal}, f.cfg, WithClock(clock))
	_, err = tr.Train(ctx, f.product.ID, policy.DQN, 1500)
	var tf *TrainingFailure
	require.ErrorAs(t, err, &tf)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "published artifact must not change")
	assert.NoFileExists(t, StagingPath(path))

	rec, err := f.journal.Model(ctx, f.product.ID, "DQN")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	s, err := f.journal.Session(ctx, tf.SessionID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, s.Status)
	assert.Equal(t, 1, s.Version)

	reloaded, err := f.trainer().LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Version)
}

func TestTrainRejectsBadTimesteps(t *testing.T) {
	f := newFixture(t)
	_, err := f.trainer().Train(context.Background(), f.product.ID, policy.DQN, 0)
	assert.Error(t, err)

	sessions, err := f.journal.Sessions(context.Background(), f.product.ID, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestPredictPriceChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.trainer()

	change, err := tr.PredictPriceChange(ctx, f.product.ID, policy.DQN, nil)
	require.NoError(t, err)
	assert.Contains(t, env.Deltas[:], change)

	s := env.State{100, 100, 500, 0, 5}
	m, err := tr.LoadOrCreate(ctx, f.product.ID, policy.DQN)
	require.NoError(t, err)
	change, err = tr.PredictPriceChange(ctx, f.product.ID, policy.DQN, &s)
	require.NoError(t, err)
	assert.Equal(t, m.Policy.Predict(s).Delta(), change)
}

func TestConcurrentTrainAndPredict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.trainer()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := tr.Train(ctx, f.product.ID, policy.PPO, 300)
		errs <- err
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.PredictPriceChange(ctx, f.product.ID, policy.PPO, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, tr.Locker().Len())
}

func TestModelCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newModelCache(2)
	a, b, d := cacheKey{1, policy.DQN}, cacheKey{2, policy.DQN}, cacheKey{3, policy.DQN}

	c.put(a, &Model{ProductID: 1})
	c.put(b, &Model{ProductID: 2})
	_, ok := c.get(a)
	require.True(t, ok)
	c.put(d, &Model{ProductID: 3})

	_, ok = c.get(b)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.get(a)
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())

	c.put(a, &Model{ProductID: 10})
	m, _ := c.get(a)
	assert.Equal(t, int64(10), m.ProductID)
	assert.Equal(t, DefaultCacheSize, newModelCache(0).size)
}
