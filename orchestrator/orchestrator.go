// Package orchestrator applies one price decision to one product: it asks the
// product's strategy for a change, bounds it, drops insignificant moves and
// commits the rest with a history record.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/env"
	"github.com/rustyeddy/pricer/internal/keylock"
	"github.com/rustyeddy/pricer/internal/logger"
	"github.com/rustyeddy/pricer/policy"
)

const (
	DefaultStaticIncrement = 0.02
	DefaultMinChange       = 0.01
)

// Predictor picks a fractional price change for an RL product. A nil state
// asks the predictor to observe the product itself.
type Predictor interface {
	PredictPriceChange(ctx context.Context, productID int64, alg policy.Algorithm, state *env.State) (float64, error)
}

type Config struct {
	Algorithm       policy.Algorithm
	StaticIncrement float64
	// MinChange is the smallest absolute price move worth committing.
	MinChange float64
}

func DefaultConfig() Config {
	return Config{
		Algorithm:       policy.DQN,
		StaticIncrement: DefaultStaticIncrement,
		MinChange:       DefaultMinChange,
	}
}

// Decision describes the outcome of UpdatePrice.
type Decision struct {
	ProductID int64
	Strategy  catalog.Strategy
	OldPrice  float64
	// NewPrice is the bounded proposal, committed or not.
	NewPrice float64
	// Change is the raw fractional change the strategy asked for.
	Change           float64
	ChangePercentage float64
	Committed        bool
}

type Orchestrator struct {
	store     catalog.Store
	predictor Predictor
	cfg       Config
	locks     *keylock.Locker
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithLocker(l *keylock.Locker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locks = l
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(store catalog.Store, predictor Predictor, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Algorithm == "" {
		cfg.Algorithm = policy.DQN
	}
	o := &Orchestrator{
		store:     store,
		predictor: predictor,
		cfg:       cfg,
		locks:     keylock.New(),
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdatePrice decides and, when significant, commits a new price for
// productID. The product lock is held from the read through the commit.
func (o *Orchestrator) UpdatePrice(ctx context.Context, productID int64) (Decision, error) {
	unlock := o.locks.Lock(keylock.ProductKey(productID))
	defer unlock()

	p, err := o.store.Product(ctx, productID)
	if err != nil {
		return Decision{}, err
	}

	var change float64
	switch p.Strategy {
	case catalog.StrategyRL:
		change, err = o.predictor.PredictPriceChange(ctx, productID, o.cfg.Algorithm, nil)
		if err != nil {
			return Decision{}, fmt.Errorf("predict price change: %w", err)
		}
	case catalog.StrategyStatic:
		change = o.cfg.StaticIncrement
	default:
		return Decision{}, &catalog.ValidationError{ProductID: productID, Field: "pricing_strategy", Reason: fmt.Sprintf("unknown strategy %q", p.Strategy)}
	}

	next := Clamp(Propose(p.CurrentPrice, change), p.MinPrice, p.MaxPrice)
	d := Decision{
		ProductID:        productID,
		Strategy:         p.Strategy,
		OldPrice:         p.CurrentPrice,
		NewPrice:         next,
		Change:           change,
		ChangePercentage: ChangePercent(p.CurrentPrice, next, change),
	}

	if !Significant(p.CurrentPrice, next, o.cfg.MinChange) {
		o.log.Debug("price change below threshold", "product_id", productID, "old_price", p.CurrentPrice, "new_price", next)
		return d, nil
	}

	rec := catalog.PriceRecord{
		ProductID:        productID,
		Price:            next,
		ChangePercentage: d.ChangePercentage,
		Timestamp:        o.now(),
	}
	if err := o.store.CommitPrice(ctx, productID, rec); err != nil {
		return d, fmt.Errorf("commit price: %w", err)
	}
	d.Committed = true

	o.log.Info("price updated",
		"product_id", productID,
		"strategy", p.Strategy,
		"old_price", p.CurrentPrice,
		"new_price", next,
		"change_pct", d.ChangePercentage,
	)
	return d, nil
}

func Clamp(v, lo, hi float64) float64 {
	return env.Clamp(v, lo, hi)
}

// Propose applies a fractional change to current.
func Propose(current, change float64) float64 {
	return current * (1 + change)
}

// Significant reports whether moving from old to next exceeds minChange.
func Significant(old, next, minChange float64) bool {
	return math.Abs(next-old) > minChange
}

// ChangePercent is the applied change in percent; see env.ChangePercent.
func ChangePercent(old, next, change float64) float64 {
	return env.ChangePercent(old, next, change)
}
