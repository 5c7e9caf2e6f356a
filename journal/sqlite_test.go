package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSQLite(t *testing.T) (*SQLite, *fakeClock, string) {
	t.Helper()

	clk := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewSQLite(path, WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, clk, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, _, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('policy_models','training_sessions')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["policy_models"])
	assert.True(t, found["training_sessions"])
}

func TestModelNotFound(t *testing.T) {
	t.Parallel()

	j, _, _ := newTestSQLite(t)
	_, err := j.Model(context.Background(), 1, "DQN")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = j.BumpVersion(context.Background(), 1, "DQN")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureModelIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, clk, _ := newTestSQLite(t)

	rec, err := j.EnsureModel(ctx, 7, "DQN", "models/product_7_DQN.json")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ProductID)
	assert.Equal(t, "DQN", rec.Algorithm)
	assert.Equal(t, "models/product_7_DQN.json", rec.Path)
	assert.Equal(t, 0, rec.Version)
	assert.True(t, rec.CreatedAt.Equal(clk.t))

	rec, err = j.RaiseVersion(ctx, 7, "DQN", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	clk.advance(time.Hour)
	again, err := j.EnsureModel(ctx, 7, "DQN", "elsewhere.json")
	require.NoError(t, err)
	assert.Equal(t, rec, again)

	other, err := j.EnsureModel(ctx, 7, "PPO", "models/product_7_PPO.json")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Version)
}

func TestVersionUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, clk, _ := newTestSQLite(t)
	_, err := j.EnsureModel(ctx, 1, "PPO", "p.json")
	require.NoError(t, err)

	rec, err := j.RaiseVersion(ctx, 1, "PPO", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)

	clk.advance(time.Minute)
	rec, err = j.BumpVersion(ctx, 1, "PPO")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.True(t, rec.UpdatedAt.Equal(clk.t))

	rec, err = j.RaiseVersion(ctx, 1, "PPO", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version, "never lowered")
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, clk, _ := newTestSQLite(t)

	s, err := j.StartSession(ctx, 3, "DQN", 5000)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, s.Status)
	assert.NotEmpty(t, s.ID)

	require.NoError(t, j.AppendLog(ctx, s.ID, "timesteps=1000 mean_reward=0.25"))
	require.NoError(t, j.AppendLog(ctx, s.ID, "timesteps=2000 mean_reward=0.31"))

	clk.advance(2 * time.Minute)
	done, err := j.CompleteSession(ctx, s.ID, StatusSucceeded, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.True(t, done.Successful)
	assert.Equal(t, 4, done.Version)
	assert.Equal(t, 5000, done.Timesteps)
	assert.True(t, done.CompletedAt.Equal(clk.t))
	assert.Equal(t, 2, strings.Count(done.Log, "\n"))
	assert.Contains(t, done.Log, "mean_reward=0.31")

	t.Run("terminal sessions are read-only", func(t *testing.T) {
		_, err := j.CompleteSession(ctx, s.ID, StatusFailed, 0)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, j.AppendLog(ctx, s.ID, "late"), ErrNotFound)
	})

	t.Run("started is not terminal", func(t *testing.T) {
		other, err := j.StartSession(ctx, 3, "DQN", 10)
		require.NoError(t, err)
		_, err = j.CompleteSession(ctx, other.ID, StatusStarted, 0)
		assert.Error(t, err)
	})
}

func TestSessionsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, clk, _ := newTestSQLite(t)

	first, err := j.StartSession(ctx, 1, "DQN", 100)
	require.NoError(t, err)
	_, err = j.CompleteSession(ctx, first.ID, StatusFailed, 0)
	require.NoError(t, err)

	clk.advance(time.Hour)
	second, err := j.StartSession(ctx, 1, "PPO", 100)
	require.NoError(t, err)

	clk.advance(time.Hour)
	third, err := j.StartSession(ctx, 1, "DQN", 100)
	require.NoError(t, err)

	_, err = j.StartSession(ctx, 2, "DQN", 100)
	require.NoError(t, err)

	all, err := j.Sessions(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.False(t, all[2].Successful)
	assert.Equal(t, StatusFailed, all[2].Status)
	assert.True(t, all[1].CompletedAt.IsZero())

	dqn, err := j.Sessions(ctx, 1, "DQN")
	require.NoError(t, err)
	require.Len(t, dqn, 2)
	assert.Equal(t, third.ID, dqn[0].ID)
}
