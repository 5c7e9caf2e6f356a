package env

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/pricer/catalog"
)

// Demand is a constant-elasticity demand curve: at the base price a step
// sells BaseUnits, and units scale with (price/base)^-Elasticity.
type Demand struct {
	BaseUnits  float64
	Elasticity float64
}

// Units returns whole units sold at price, capped by stock.
func (d Demand) Units(price, base float64, stock int64) int64 {
	if d.BaseUnits <= 0 || price <= 0 || stock <= 0 {
		return 0
	}
	ratio := 1.0
	if base > 0 {
		ratio = price / base
	}
	units := int64(math.Round(d.BaseUnits * math.Pow(ratio, -d.Elasticity)))
	if units > stock {
		units = stock
	}
	if units < 0 {
		units = 0
	}
	return units
}

type SandboxConfig struct {
	// StepInterval is how far the virtual clock moves on every commit.
	StepInterval time.Duration
	Demand       Demand
	// Restock, when positive, resets stock to this level once it runs out.
	Restock int64
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		StepInterval: 24 * time.Hour,
		Demand:       Demand{BaseUnits: 5, Elasticity: 1.5},
	}
}

// Sandbox is a Provider over an in-memory copy of one product. Each commit
// advances a virtual clock, simulates the units sold at the new price and
// draws them from stock. The source store is only read, once.
type Sandbox struct {
	mem       *catalog.Memory
	productID int64
	cfg       SandboxConfig

	mu      sync.Mutex
	start   time.Time
	now     time.Time
	initial catalog.Product
	history []catalog.PriceRecord
}

// NewSandbox snapshots productID from src as of start.
func NewSandbox(ctx context.Context, src Provider, productID int64, start time.Time, cfg SandboxConfig) (*Sandbox, error) {
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 24 * time.Hour
	}
	p, err := src.Product(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	history, err := src.HistorySince(ctx, productID, start.Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("sandbox history: %w", err)
	}

	sb := &Sandbox{
		productID: productID,
		cfg:       cfg,
		start:     start,
		now:       start,
		initial:   p,
		history:   history,
	}
	sb.mem = catalog.NewMemory(catalog.WithClock(sb.Now))
	sb.mem.Restore(p, history)
	return sb, nil
}

// Now is the sandbox's virtual clock.
func (s *Sandbox) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Sandbox) Product(ctx context.Context, productID int64) (catalog.Product, error) {
	return s.mem.Product(ctx, productID)
}

func (s *Sandbox) HistorySince(ctx context.Context, productID int64, since time.Time) ([]catalog.PriceRecord, error) {
	return s.mem.HistorySince(ctx, productID, since)
}

// CommitPrice stamps rec at the next virtual tick and fills in simulated
// sales before committing it to the in-memory copy.
func (s *Sandbox) CommitPrice(ctx context.Context, productID int64, rec catalog.PriceRecord) error {
	p, err := s.mem.Product(ctx, productID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.now = s.now.Add(s.cfg.StepInterval)
	rec.Timestamp = s.now
	s.mu.Unlock()

	units := s.cfg.Demand.Units(rec.Price, p.BasePrice, p.StockQuantity)
	rec.UnitsSold = units
	rec.Revenue = float64(units) * rec.Price

	if err := s.mem.CommitPrice(ctx, productID, rec); err != nil {
		return err
	}
	if units > 0 {
		if err := s.mem.AdjustStock(productID, -units); err != nil {
			return err
		}
	}
	if s.cfg.Restock > 0 && p.StockQuantity-units <= 0 {
		return s.mem.AdjustStock(productID, s.cfg.Restock)
	}
	return nil
}

// Rewind restores the snapshot and the clock taken at construction.
func (s *Sandbox) Rewind() {
	s.mu.Lock()
	s.now = s.start
	s.mu.Unlock()
	s.mem.Restore(s.initial, s.history)
}

// NewEnvironment binds an Environment to the sandbox and its clock. Every
// Reset rewinds the sandbox so episodes start from the same state.
func (s *Sandbox) NewEnvironment(opts ...Option) *Environment {
	opts = append([]Option{WithClock(s.Now), WithResetHook(s.Rewind)}, opts...)
	return New(s, s.productID, opts...)
}
