// Package trainer owns the policy artifacts: it loads or creates them, trains
// them in a sandbox (or against the live catalog when configured) and answers
// price change predictions.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/env"
	"github.com/rustyeddy/pricer/internal/keylock"
	"github.com/rustyeddy/pricer/internal/logger"
	"github.com/rustyeddy/pricer/journal"
	"github.com/rustyeddy/pricer/policy"
)

type Config struct {
	ModelDir string
	// Seed is the base seed; each product trains with Seed + productID.
	Seed     uint64
	MaxSteps int
	// Live trains against the durable catalog instead of a sandbox copy.
	Live      bool
	Sandbox   env.SandboxConfig
	CacheSize int
}

// PolicyFactory builds an untrained policy.
type PolicyFactory func(alg policy.Algorithm, seed uint64) (policy.Policy, error)

// Model is a loaded policy bound to an environment over the live catalog.
type Model struct {
	ProductID int64
	Algorithm policy.Algorithm
	Version   int
	Path      string
	Policy    policy.Policy
	Env       *env.Environment
}

type Trainer struct {
	store   catalog.Store
	journal journal.Journal
	cfg     Config

	factory PolicyFactory
	locks   *keylock.Locker
	log     *logger.Logger
	now     func() time.Time
	cache   *modelCache
}

type Option func(*Trainer)

func WithPolicyFactory(f PolicyFactory) Option {
	return func(t *Trainer) {
		if f != nil {
			t.factory = f
		}
	}
}

// WithLocker shares per-product locks with other components.
func WithLocker(l *keylock.Locker) Option {
	return func(t *Trainer) {
		if l != nil {
			t.locks = l
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(t *Trainer) { t.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		if now != nil {
			t.now = now
		}
	}
}

func New(store catalog.Store, j journal.Journal, cfg Config, opts ...Option) *Trainer {
	if cfg.ModelDir == "" {
		cfg.ModelDir = "models"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = env.DefaultMaxSteps
	}
	t := &Trainer{
		store:   store,
		journal: j,
		cfg:     cfg,
		factory: policy.New,
		locks:   keylock.New(),
		log:     logger.Nop(),
		now:     time.Now,
		cache:   newModelCache(cfg.CacheSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ModelPath is the artifact location for (productID, alg) under dir.
func ModelPath(dir string, productID int64, alg policy.Algorithm) string {
	return filepath.Join(dir, fmt.Sprintf("product_%d_%s.json", productID, alg))
}

// StagingPath is where Train writes a new artifact before publishing it.
func StagingPath(path string) string { return path + ".next" }

func (t *Trainer) seedFor(productID int64) uint64 {
	return t.cfg.Seed + uint64(productID)
}

func (t *Trainer) liveEnv(productID int64) *env.Environment {
	return env.New(t.store, productID, env.WithMaxSteps(t.cfg.MaxSteps), env.WithClock(t.now))
}

// LoadOrCreate returns the model for (productID, alg). An existing artifact
// is loaded; otherwise a fresh policy is saved and registered at version 1.
func (t *Trainer) LoadOrCreate(ctx context.Context, productID int64, alg policy.Algorithm) (*Model, error) {
	unlock := t.locks.Lock(keylock.ModelKey(productID, string(alg)))
	defer unlock()
	return t.loadOrCreate(ctx, productID, alg)
}

// loadOrCreate requires the model key to be held.
func (t *Trainer) loadOrCreate(ctx context.Context, productID int64, alg policy.Algorithm) (*Model, error) {
	key := cacheKey{productID: productID, alg: alg}
	if m, ok := t.cache.get(key); ok {
		return m, nil
	}

	if _, err := t.store.Product(ctx, productID); err != nil {
		return nil, err
	}

	path := ModelPath(t.cfg.ModelDir, productID, alg)
	pol, err := t.factory(alg, t.seedFor(productID))
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := pol.Load(path); err != nil {
			return nil, err
		}
		t.log.Debug("model loaded", "product_id", productID, "algorithm", alg, "path", path)
	case errors.Is(statErr, fs.ErrNotExist):
		if err := pol.Save(path); err != nil {
			return nil, fmt.Errorf("save new model: %w", err)
		}
		t.log.Info("model created", "product_id", productID, "algorithm", alg, "path", path)
	default:
		return nil, &policy.ModelLoadError{Path: path, Err: statErr}
	}

	if _, err := t.journal.EnsureModel(ctx, productID, string(alg), path); err != nil {
		return nil, err
	}
	rec, err := t.journal.RaiseVersion(ctx, productID, string(alg), 1)
	if err != nil {
		return nil, err
	}

	m := &Model{
		ProductID: productID,
		Algorithm: alg,
		Version:   rec.Version,
		Path:      path,
		Policy:    pol,
		Env:       t.liveEnv(productID),
	}
	t.cache.put(key, m)
	return m, nil
}

// Train fully retrains (productID, alg) from a fresh policy for timesteps
// steps and publishes the result as the next model version.
func (t *Trainer) Train(ctx context.Context, productID int64, alg policy.Algorithm, timesteps int) (*Model, error) {
	if timesteps <= 0 {
		return nil, fmt.Errorf("timesteps must be positive, got %d", timesteps)
	}

	unlockProduct := t.locks.Lock(keylock.ProductKey(productID))
	defer unlockProduct()
	unlockModel := t.locks.Lock(keylock.ModelKey(productID, string(alg)))
	defer unlockModel()

	if _, err := t.store.Product(ctx, productID); err != nil {
		return nil, err
	}

	path := ModelPath(t.cfg.ModelDir, productID, alg)
	rec, err := t.journal.EnsureModel(ctx, productID, string(alg), path)
	if err != nil {
		return nil, err
	}
	session, err := t.journal.StartSession(ctx, productID, string(alg), timesteps)
	if err != nil {
		return nil, err
	}

	log := t.log.With("product_id", productID, "algorithm", alg, "session_id", session.ID)
	log.Info("training started", "timesteps", timesteps, "live", t.cfg.Live)

	fail := func(cause error) error {
		// The caller's context may already be cancelled; the session must
		// still be closed.
		if _, err := t.journal.CompleteSession(context.WithoutCancel(ctx), session.ID, journal.StatusFailed, rec.Version); err != nil {
			log.Error("failed to record failed session", "error", err)
		}
		log.Error("training failed", "error", cause)
		return &TrainingFailure{SessionID: session.ID, ProductID: productID, Algorithm: alg, Err: cause}
	}

	e, err := t.trainingEnv(ctx, productID)
	if err != nil {
		return nil, fail(err)
	}
	pol, err := t.factory(alg, t.seedFor(productID))
	if err != nil {
		return nil, fail(err)
	}

	progress := func(p policy.Progress) {
		line := fmt.Sprintf("timesteps=%d episodes=%d mean_reward=%.6f", p.Timesteps, p.Episodes, p.MeanReward)
		if err := t.journal.AppendLog(ctx, session.ID, line); err != nil {
			log.Warn("failed to append session log", "error", err)
		}
		log.Info("training progress", "timesteps", p.Timesteps, "episodes", p.Episodes, "mean_reward", p.MeanReward)
	}

	if err := pol.Learn(ctx, e, timesteps, progress); err != nil {
		return nil, fail(err)
	}

	// The published artifact is only replaced once the new version is on
	// record; until then the weights live at the staging path.
	staged := StagingPath(path)
	if err := pol.Save(staged); err != nil {
		_ = os.Remove(staged)
		return nil, fail(fmt.Errorf("save model: %w", err))
	}
	bumped, err := t.journal.BumpVersion(ctx, productID, string(alg))
	if err != nil {
		_ = os.Remove(staged)
		return nil, fail(err)
	}
	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)
		log.Error("model version recorded but artifact not published", "version", bumped.Version, "error", err)
		return nil, fail(fmt.Errorf("publish model: %w", err))
	}
	rec = bumped
	if _, err := t.journal.CompleteSession(ctx, session.ID, journal.StatusSucceeded, rec.Version); err != nil {
		return nil, err
	}

	m := &Model{
		ProductID: productID,
		Algorithm: alg,
		Version:   rec.Version,
		Path:      path,
		Policy:    pol,
		Env:       t.liveEnv(productID),
	}
	t.cache.put(cacheKey{productID: productID, alg: alg}, m)
	log.Info("training finished", "version", rec.Version)
	return m, nil
}

func (t *Trainer) trainingEnv(ctx context.Context, productID int64) (*env.Environment, error) {
	if t.cfg.Live {
		return t.liveEnv(productID), nil
	}
	sb, err := env.NewSandbox(ctx, t.store, productID, t.now(), t.cfg.Sandbox)
	if err != nil {
		return nil, err
	}
	return sb.NewEnvironment(env.WithMaxSteps(t.cfg.MaxSteps)), nil
}

// PredictPriceChange returns the fractional price change the model picks for
// state. A nil state is observed from the live catalog.
func (t *Trainer) PredictPriceChange(ctx context.Context, productID int64, alg policy.Algorithm, state *env.State) (float64, error) {
	unlock := t.locks.Lock(keylock.ModelKey(productID, string(alg)))
	defer unlock()

	m, err := t.loadOrCreate(ctx, productID, alg)
	if err != nil {
		return 0, err
	}

	var s env.State
	if state != nil {
		s = *state
	} else {
		s, err = m.Env.Reset(ctx)
		if err != nil {
			return 0, err
		}
	}

	a := m.Policy.Predict(s)
	t.log.Debug("prediction", "product_id", productID, "algorithm", alg, "action", int(a), "version", m.Version)
	return a.Delta(), nil
}

func (t *Trainer) Sessions(ctx context.Context, productID int64, alg policy.Algorithm) ([]journal.TrainingSession, error) {
	return t.journal.Sessions(ctx, productID, string(alg))
}

// Locker exposes the per-key locks so callers can share them.
func (t *Trainer) Locker() *keylock.Locker { return t.locks }
