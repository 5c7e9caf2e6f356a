// Package env models one product's pricing problem as a Markov decision
// process: a 5-value state, five discrete price moves and a margin reward.
//
// The environment reads and writes through a Provider. Inference binds it to
// the live catalog, where Reset is read-only. Training binds it to a Sandbox so
// Step never perturbs real prices.
package env

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/pricer/catalog"
)

const (
	// DefaultMaxSteps is the episode length.
	DefaultMaxSteps = 100

	// MaxDaysSinceSale caps days_since_last_sale; no sale in the window reads
	// as this value.
	MaxDaysSinceSale = 30

	// SalesWindow is the trailing window for the sales rate.
	SalesWindow = 7 * 24 * time.Hour

	historyWindow = MaxDaysSinceSale * 24 * time.Hour
)

// Unbounded is the finite upper bound used for stock and sales rate.
const Unbounded = math.MaxFloat32

// ErrEpisodeDone is returned by Step once the episode has run MaxSteps.
var ErrEpisodeDone = errors.New("episode is done; call Reset")

// Provider is the slice of the catalog the environment depends on.
type Provider interface {
	Product(ctx context.Context, id int64) (catalog.Product, error)
	CommitPrice(ctx context.Context, productID int64, rec catalog.PriceRecord) error
	HistorySince(ctx context.Context, productID int64, since time.Time) ([]catalog.PriceRecord, error)
}

type Environment struct {
	provider  Provider
	productID int64
	maxSteps  int
	now       func() time.Time
	onReset   func()

	product catalog.Product
	state   State
	steps   int
	started bool
}

type Option func(*Environment)

func WithMaxSteps(n int) Option {
	return func(e *Environment) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock sets the time source used for history windows and record stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Environment) {
		if now != nil {
			e.now = now
		}
	}
}

// WithResetHook runs fn at the start of every Reset.
func WithResetHook(fn func()) Option {
	return func(e *Environment) { e.onReset = fn }
}

func New(p Provider, productID int64, opts ...Option) *Environment {
	e := &Environment{
		provider:  p,
		productID: productID,
		maxSteps:  DefaultMaxSteps,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Environment) ProductID() int64 { return e.productID }
func (e *Environment) MaxSteps() int    { return e.maxSteps }
func (e *Environment) Steps() int       { return e.steps }
func (e *Environment) State() State     { return e.state }

// Done reports whether the current episode has reached MaxSteps.
func (e *Environment) Done() bool { return e.steps >= e.maxSteps }

// Reset re-reads the product and its history and starts a new episode.
func (e *Environment) Reset(ctx context.Context) (State, error) {
	if e.onReset != nil {
		e.onReset()
	}
	p, err := e.provider.Product(ctx, e.productID)
	if err != nil {
		return State{}, fmt.Errorf("reset: %w", err)
	}
	if err := p.Validate(); err != nil {
		return State{}, err
	}
	s, err := e.observe(ctx, p)
	if err != nil {
		return State{}, fmt.Errorf("reset: %w", err)
	}
	e.product = p
	e.state = s
	e.steps = 0
	e.started = true
	return s, nil
}

// StepResult is the outcome of one transition.
type StepResult struct {
	State    State
	Reward   float64
	Done     bool
	OldPrice float64
	NewPrice float64
}

// Step applies action to the product's current price, commits the new price
// with a history record and rebuilds the state from the provider.
func (e *Environment) Step(ctx context.Context, a Action) (StepResult, error) {
	if !e.started {
		return StepResult{}, errors.New("step before reset")
	}
	if e.Done() {
		return StepResult{}, ErrEpisodeDone
	}
	if !a.Valid() {
		return StepResult{}, fmt.Errorf("invalid action %d", a)
	}

	p, err := e.provider.Product(ctx, e.productID)
	if err != nil {
		return StepResult{}, fmt.Errorf("step: %w", err)
	}

	old := p.CurrentPrice
	next := Clamp(old*(1+a.Delta()), p.MinPrice, p.MaxPrice)

	// Reward first: an undefined reward must not leave a committed price.
	reward, err := Reward(next, p.CostPrice)
	if err != nil {
		return StepResult{}, err
	}

	rec := catalog.PriceRecord{
		ProductID:        e.productID,
		Price:            next,
		ChangePercentage: ChangePercent(old, next, a.Delta()),
		Timestamp:        e.now(),
	}
	if err := e.provider.CommitPrice(ctx, e.productID, rec); err != nil {
		return StepResult{}, fmt.Errorf("step commit: %w", err)
	}
	e.steps++

	p, err = e.provider.Product(ctx, e.productID)
	if err != nil {
		return StepResult{}, fmt.Errorf("step: %w", err)
	}
	s, err := e.observe(ctx, p)
	if err != nil {
		return StepResult{}, fmt.Errorf("step: %w", err)
	}
	e.product = p
	e.state = s

	return StepResult{
		State:    s,
		Reward:   reward,
		Done:     e.Done(),
		OldPrice: old,
		NewPrice: next,
	}, nil
}

func (e *Environment) observe(ctx context.Context, p catalog.Product) (State, error) {
	now := e.now()
	history, err := e.provider.HistorySince(ctx, p.ID, now.Add(-historyWindow))
	if err != nil {
		return State{}, err
	}
	return Observe(p, history, now), nil
}

// Reward is the margin rate of selling at price.
func Reward(price, cost float64) (float64, error) {
	if price == 0 {
		return 0, &DomainError{Op: "reward", Reason: "margin is undefined at a price of zero"}
	}
	return (price - cost) / price, nil
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// ChangePercent is the applied change from old to next in percent, bounded
// to [-100, 100]. A zero old price falls back to the requested delta.
func ChangePercent(old, next, delta float64) float64 {
	pct := delta * 100
	if old != 0 {
		pct = (next - old) / old * 100
	}
	return Clamp(pct, -100, 100)
}

// DomainError reports a value the MDP cannot define, such as the reward at a
// zero price.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
